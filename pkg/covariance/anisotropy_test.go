package covariance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAnisotropyFromRanges verifies the ratio and major-axis direction
func TestAnisotropyFromRanges(t *testing.T) {
	sectors := []float64{0, 45, 90, 135}
	ranges := []float64{10, 7, 5, 7}

	sum, err := AnisotropyFromRanges(sectors, ranges)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sum.Ratio, 1e-12)
	assert.InDelta(t, 0.0, sum.Direction, 1e-12)
}

// TestAnisotropySkipsFailedSectors verifies NaN ranges are ignored
func TestAnisotropySkipsFailedSectors(t *testing.T) {
	sectors := []float64{0, 45, 90}
	ranges := []float64{8, math.NaN(), 4}

	sum, err := AnisotropyFromRanges(sectors, ranges)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sum.Ratio, 1e-12)
	assert.InDelta(t, 0.0, sum.Direction, 1e-12)
}

// TestAnisotropyTooFewSectors verifies the minimum usable sector count
func TestAnisotropyTooFewSectors(t *testing.T) {
	_, err := AnisotropyFromRanges([]float64{0, 90}, []float64{5, math.NaN()})
	assert.Error(t, err)

	_, err = AnisotropyFromRanges([]float64{0, 90}, []float64{5})
	assert.Error(t, err)
}
