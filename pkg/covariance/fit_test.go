package covariance

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbme/internal/models"
	"envbme/pkg/geometry"
)

// timeSeries is a short single-station record: three exact values and one
// uncertain reading between them.
func timeSeries() ([]models.HardObservation, []models.SoftObservation) {
	hard := []models.HardObservation{
		{Point: models.Point{Space: []float64{0, 0}, Time: 0}, Value: 1.0},
		{Point: models.Point{Space: []float64{0, 0}, Time: 1}, Value: 2.0},
		{Point: models.Point{Space: []float64{0, 0}, Time: 2}, Value: 1.5},
	}
	soft := []models.SoftObservation{{
		Point:    models.Point{Space: []float64{0, 0}, Time: 1.5},
		Mean:     1.8,
		Variance: 0.05,
	}}
	return hard, soft
}

// TestFitTimeSeries verifies a converged exponential fit on the small
// mixed record
func TestFitTimeSeries(t *testing.T) {
	hard, soft := timeSeries()
	surf, err := Empirical(hard, soft, []float64{1}, []float64{0.5, 1, 1.5, 2}, geometry.Planar)
	require.NoError(t, err)

	initial := Params{Sill: 0.5, SpatialRange: 5, TemporalRange: 2}
	res, err := Fit(surf, Exponential, initial, DefaultFitOptions())
	require.NoError(t, err)

	require.NoError(t, res.Model.Validate())
	assert.Greater(t, res.Model.Params.Sill, 0.0)
	assert.Greater(t, res.Model.Params.TemporalRange, 0.0)
	assert.GreaterOrEqual(t, res.Model.Params.Nugget, 0.0)
	assert.Greater(t, res.Evaluations, 0)
	assert.False(t, math.IsNaN(res.ResidualNorm))
}

// TestFitRecoversKnownModel verifies the fit against a synthetic surface
// generated from a known model
func TestFitRecoversKnownModel(t *testing.T) {
	truth := Model{Family: Exponential, Params: Params{
		Sill: 2.0, SpatialRange: 8, TemporalRange: 4,
	}}

	// Build a surface whose bin values are the model evaluated at the
	// bin's mean lags, each backed by a uniform pair count.
	spatial := []float64{1, 2, 4, 8}
	temporal := []float64{1, 2, 4}
	surf := &Surface{
		SpatialLags:  spatial,
		TemporalLags: temporal,
		Values:       makeGrid(len(spatial), len(temporal)),
		Pairs:        makeIntGrid(len(spatial), len(temporal)),
		MeanSpatial:  makeGrid(len(spatial), len(temporal)),
		MeanTemporal: makeGrid(len(spatial), len(temporal)),
	}
	for i, ds := range spatial {
		for j, dt := range temporal {
			surf.MeanSpatial[i][j] = ds
			surf.MeanTemporal[i][j] = dt
			surf.Values[i][j] = truth.Evaluate(ds, dt)
			surf.Pairs[i][j] = 10
		}
	}

	initial := Params{Sill: 1.0, SpatialRange: 5, TemporalRange: 5}
	res, err := Fit(surf, Exponential, initial, DefaultFitOptions())
	require.NoError(t, err)

	assert.InDelta(t, truth.Params.Sill, res.Model.Params.Sill, 0.1)
	assert.InDelta(t, truth.Params.SpatialRange, res.Model.Params.SpatialRange, 0.5)
	assert.InDelta(t, truth.Params.TemporalRange, res.Model.Params.TemporalRange, 0.5)
	assert.InDelta(t, 0.0, res.ResidualNorm, 1e-3)
}

// TestFitInsufficientBins verifies divergence when there are fewer
// populated bins than free parameters
func TestFitInsufficientBins(t *testing.T) {
	hard := []models.HardObservation{
		{Point: models.Point{Space: []float64{0, 0}, Time: 0}, Value: 1.0},
		{Point: models.Point{Space: []float64{0, 0}, Time: 1}, Value: 2.0},
	}
	surf, err := Empirical(hard, nil, []float64{1}, []float64{1}, geometry.Planar)
	require.NoError(t, err)

	_, err = Fit(surf, Exponential, Params{Sill: 1, SpatialRange: 1, TemporalRange: 1}, DefaultFitOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFitDivergence))
}

// TestFitNilSurface verifies the guard against a missing surface
func TestFitNilSurface(t *testing.T) {
	_, err := Fit(nil, Exponential, Params{}, DefaultFitOptions())
	assert.Error(t, err)
}
