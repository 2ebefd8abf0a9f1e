package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbme/internal/models"
	"envbme/pkg/geometry"
	"envbme/pkg/neighborhood"
)

func smoothingWindow() neighborhood.Params {
	return neighborhood.Params{MaxSpatial: 2, MaxTemporal: 100, SpaceTimeRatio: 0.2}
}

// TestSmoothConstantField verifies a constant field decomposes into its
// level plus zero residuals
func TestSmoothConstantField(t *testing.T) {
	hard := []models.HardObservation{
		{Point: models.Point{Space: []float64{0, 0}, Time: 0}, Value: 7},
		{Point: models.Point{Space: []float64{1, 0}, Time: 1}, Value: 7},
		{Point: models.Point{Space: []float64{0, 1}, Time: 2}, Value: 7},
	}
	targets := []models.Point{{Space: []float64{0.5, 0.5}, Time: 1}}

	s, err := Smooth(hard, nil, targets, smoothingWindow(), geometry.Planar)
	require.NoError(t, err)

	for i := range hard {
		assert.Equal(t, 7.0, s.HardMeans[i])
		assert.Equal(t, 0.0, s.Hard[i].Value)
	}
	assert.Equal(t, 7.0, s.TargetMeans[0])
}

// TestSmoothShiftsSoftForms verifies both soft representations move into
// the residual frame
func TestSmoothShiftsSoftForms(t *testing.T) {
	hard := []models.HardObservation{
		{Point: models.Point{Space: []float64{0, 0}, Time: 0}, Value: 10},
		{Point: models.Point{Space: []float64{1, 0}, Time: 0}, Value: 10},
	}
	soft := []models.SoftObservation{
		{
			Point: models.Point{Space: []float64{0.5, 0}, Time: 0},
			Mean:  12, Variance: 1, Lower: 9, Upper: 15,
		},
		{
			Point:  models.Point{Space: []float64{0.5, 0}, Time: 0},
			Values: []float64{9, 11}, Probs: []float64{0.5, 0.5},
		},
	}

	s, err := Smooth(hard, soft, nil, smoothingWindow(), geometry.Planar)
	require.NoError(t, err)

	assert.Equal(t, 2.0, s.Soft[0].Mean)
	assert.Equal(t, -1.0, s.Soft[0].Lower)
	assert.Equal(t, 5.0, s.Soft[0].Upper)
	assert.Equal(t, 1.0, s.Soft[0].Variance)

	assert.Equal(t, []float64{-1, 1}, s.Soft[1].Values)
	// The input observation is left untouched
	assert.Equal(t, []float64{9, 11}, soft[1].Values)
}

// TestSmoothGlobalFallback verifies locations with an empty window use
// the global mean
func TestSmoothGlobalFallback(t *testing.T) {
	hard := []models.HardObservation{
		{Point: models.Point{Space: []float64{0, 0}, Time: 0}, Value: 4},
		{Point: models.Point{Space: []float64{1, 0}, Time: 0}, Value: 8},
	}
	targets := []models.Point{{Space: []float64{500, 500}, Time: 0}}

	s, err := Smooth(hard, nil, targets, smoothingWindow(), geometry.Planar)
	require.NoError(t, err)
	assert.Equal(t, 6.0, s.TargetMeans[0])
}

// TestRestore verifies means are added back onto successful batch items
// only
func TestRestore(t *testing.T) {
	s := &Smoothing{TargetMeans: []float64{10, 20}}
	items := []BatchItem{
		{Index: 0, Result: &MomentResult{Mean: 1.5}},
		{Index: 1, Err: assert.AnError},
	}
	s.Restore(items)
	assert.Equal(t, 11.5, items[0].Result.Mean)
	assert.Nil(t, items[1].Result)
}

// TestSmoothRequiresHardData verifies the empty-input guard
func TestSmoothRequiresHardData(t *testing.T) {
	_, err := Smooth(nil, nil, nil, smoothingWindow(), geometry.Planar)
	assert.Error(t, err)
}
