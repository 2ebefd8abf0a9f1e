package neighborhood

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbme/internal/models"
)

func pt(x, y, tm float64) models.Point {
	return models.Point{Space: []float64{x, y}, Time: tm}
}

// TestDesignMatrixShape verifies the basis layout for a first-order trend
func TestDesignMatrixShape(t *testing.T) {
	points := []models.Point{
		pt(0, 0, 0), pt(1, 0, 1), pt(0, 1, 2), pt(1, 1, 3), pt(2, 1, 4),
	}
	target := pt(0.5, 0.5, 1.5)
	spec := TrendSpec{SpatialOrder: 1, TemporalOrder: 1}

	x, targetRow, err := DesignMatrix(points, target, spec)
	require.NoError(t, err)

	rows, cols := x.Dims()
	assert.Equal(t, 5, rows)
	// constant, x, y, t
	assert.Equal(t, 4, cols)
	require.Len(t, targetRow, 4)
	assert.Equal(t, []float64{1, 0.5, 0.5, 1.5}, targetRow)
}

// TestDesignMatrixFourier verifies the periodic temporal basis
func TestDesignMatrixFourier(t *testing.T) {
	points := []models.Point{
		pt(0, 0, 0), pt(1, 0, 3), pt(0, 1, 6), pt(1, 1, 9), pt(2, 2, 11),
	}
	spec := TrendSpec{SpatialOrder: 0, TemporalOrder: 1, TemporalPeriod: 12}

	x, targetRow, err := DesignMatrix(points, pt(0, 0, 3), spec)
	require.NoError(t, err)

	_, cols := x.Dims()
	// constant, sin, cos
	assert.Equal(t, 3, cols)
	assert.InDelta(t, 1.0, targetRow[1], 1e-12) // sin(pi/2)
	assert.InDelta(t, 0.0, targetRow[2], 1e-12) // cos(pi/2)
}

// TestDesignMatrixRankDeficiency verifies degenerate neighborhoods are
// rejected rather than silently fitted
func TestDesignMatrixRankDeficiency(t *testing.T) {
	// Fewer points than trend terms
	few := []models.Point{pt(0, 0, 0), pt(1, 0, 1)}
	_, _, err := DesignMatrix(few, pt(0, 0, 0), TrendSpec{SpatialOrder: 1, TemporalOrder: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRankDeficiency))

	// Enough points, but every one shares a location: spatial columns are
	// collinear with the constant
	colocated := []models.Point{pt(2, 3, 0), pt(2, 3, 1), pt(2, 3, 2), pt(2, 3, 3), pt(2, 3, 4)}
	_, _, err = DesignMatrix(colocated, pt(2, 3, 0), TrendSpec{SpatialOrder: 1, TemporalOrder: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRankDeficiency))

	// The same neighborhood works once the spatial trend is dropped
	_, _, err = DesignMatrix(colocated, pt(2, 3, 0), TrendSpec{SpatialOrder: 0, TemporalOrder: 1})
	assert.NoError(t, err)
}

// TestFitTrendRecoversPlane verifies exact recovery of a linear trend
func TestFitTrendRecoversPlane(t *testing.T) {
	points := []models.Point{
		pt(0, 0, 0), pt(1, 0, 0), pt(0, 1, 0), pt(0, 0, 1), pt(1, 1, 1), pt(2, 1, 3),
	}
	target := pt(0.5, 0.5, 0.5)
	spec := TrendSpec{SpatialOrder: 1, TemporalOrder: 1}

	// v = 2 + 3x - y + 0.5t
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = 2 + 3*p.Space[0] - p.Space[1] + 0.5*p.Time
	}

	x, targetRow, err := DesignMatrix(points, target, spec)
	require.NoError(t, err)
	beta, err := FitTrend(x, values)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, beta[0], 1e-9)
	assert.InDelta(t, 3.0, beta[1], 1e-9)
	assert.InDelta(t, -1.0, beta[2], 1e-9)
	assert.InDelta(t, 0.5, beta[3], 1e-9)
	assert.InDelta(t, 2+1.5-0.5+0.25, TrendAt(targetRow, beta), 1e-9)
}

// TestSpatialExponents verifies the second-order monomial enumeration
func TestSpatialExponents(t *testing.T) {
	exps := spatialExponents(2, 2)
	// degree 1: x, y; degree 2: x^2, xy, y^2
	assert.Equal(t, [][]int{{1, 0}, {0, 1}, {2, 0}, {1, 1}, {0, 2}}, exps)
}
