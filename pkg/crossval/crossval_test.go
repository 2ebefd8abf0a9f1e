package crossval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbme/internal/models"
	"envbme/pkg/covariance"
	"envbme/pkg/neighborhood"
	"envbme/pkg/solver"
)

func testModel() covariance.Model {
	return covariance.Model{
		Family: covariance.Exponential,
		Params: covariance.Params{Sill: 0.2, SpatialRange: 5, TemporalRange: 3},
	}
}

func testOptions() Options {
	opts := solver.DefaultOptions()
	opts.Trend = neighborhood.TrendSpec{SpatialOrder: 0, TemporalOrder: 1}
	return Options{Solver: opts, Workers: 2}
}

func series() []models.HardObservation {
	values := []float64{1.0, 2.0, 1.5, 1.8, 1.2, 1.6}
	out := make([]models.HardObservation, len(values))
	for i, v := range values {
		out[i] = models.HardObservation{
			Point: models.Point{Space: []float64{0, 0}, Time: float64(i)},
			Value: v,
		}
	}
	return out
}

// TestPerform verifies every point is withheld and re-estimated with
// aggregate statistics over the successes
func TestPerform(t *testing.T) {
	hard := series()
	report, err := Perform(testModel(), hard, nil, testOptions(), nil)
	require.NoError(t, err)

	require.Len(t, report.Points, len(hard))
	assert.Equal(t, len(hard), report.Evaluated)
	assert.Equal(t, 0, report.Failed)

	for i, p := range report.Points {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, hard[i].Value, p.Actual)
		assert.InDelta(t, p.Predicted-p.Actual, p.Residual, 1e-12)
		assert.GreaterOrEqual(t, p.Variance, 0.0)
	}
	assert.Greater(t, report.RMSE, 0.0)
}

// TestPerformDeterministic verifies repeated runs are bit-identical
func TestPerformDeterministic(t *testing.T) {
	hard := series()
	first, err := Perform(testModel(), hard, nil, testOptions(), nil)
	require.NoError(t, err)
	second, err := Perform(testModel(), hard, nil, testOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Bias, second.Bias)
	assert.Equal(t, first.RMSE, second.RMSE)
	for i := range first.Points {
		assert.Equal(t, first.Points[i].Predicted, second.Points[i].Predicted)
		assert.Equal(t, first.Points[i].Variance, second.Points[i].Variance)
	}
}

// TestPerformContinuesPastFailures verifies an isolated point fails alone
// while the rest of the run completes
func TestPerformContinuesPastFailures(t *testing.T) {
	hard := append(series(), models.HardObservation{
		Point: models.Point{Space: []float64{5000, 5000}, Time: 0},
		Value: 3.0,
	})

	report, err := Perform(testModel(), hard, nil, testOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, len(hard)-1, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	assert.Error(t, report.Points[len(hard)-1].Err)
	for i := 0; i < len(hard)-1; i++ {
		assert.NoError(t, report.Points[i].Err)
	}
}

// TestPerformMinimumInput verifies the two-observation floor
func TestPerformMinimumInput(t *testing.T) {
	one := series()[:1]
	_, err := Perform(testModel(), one, nil, testOptions(), nil)
	assert.Error(t, err)
}
