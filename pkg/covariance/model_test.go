package covariance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvaluateOrigin verifies the exact zero-lag value and the nugget
// discontinuity
func TestEvaluateOrigin(t *testing.T) {
	m := Model{Family: Exponential, Params: Params{
		Sill: 2.0, SpatialRange: 10, TemporalRange: 5, Nugget: 0.3,
	}}
	assert.Equal(t, 2.3, m.Evaluate(0, 0))
	assert.Equal(t, 2.3, m.ZeroLag())

	// The nugget applies at the exact origin only
	near := m.Evaluate(1e-9, 0)
	assert.Less(t, near, 2.3)
	assert.Greater(t, near, 1.9)
}

// TestEvaluateMonotoneDecay verifies non-increasing covariance in each lag
func TestEvaluateMonotoneDecay(t *testing.T) {
	for _, m := range []Model{
		{Family: Exponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5}},
		{Family: NonSeparable, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5, Interaction: 0.5}},
	} {
		prev := m.Evaluate(0, 0)
		for ds := 1.0; ds <= 30; ds += 1.0 {
			c := m.Evaluate(ds, 2.0)
			assert.LessOrEqual(t, c, prev, "family %s at lag %v", m.Family, ds)
			assert.GreaterOrEqual(t, c, 0.0)
			prev = c
		}
	}
}

// TestEvaluateRangeDecay verifies roughly 5% of the sill at the range
func TestEvaluateRangeDecay(t *testing.T) {
	m := Model{Family: Exponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5}}
	assert.InDelta(t, math.Exp(-3), m.Evaluate(10, 0), 1e-12)
	assert.InDelta(t, math.Exp(-3), m.Evaluate(0, 5), 1e-12)
}

// TestEffectiveSpatialLag verifies the geometric anisotropy transform
func TestEffectiveSpatialLag(t *testing.T) {
	iso := Model{Family: Exponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5}}
	assert.InDelta(t, 5.0, iso.EffectiveSpatialLag([]float64{3, 4}), 1e-12)

	dir := Model{Family: DirectionalExponential, Params: Params{
		Sill: 1, SpatialRange: 10, TemporalRange: 5,
		AnisotropyRatio: 0.5, AnisotropyAngle: 0,
	}}
	// Along the major axis the separation is unchanged
	assert.InDelta(t, 2.0, dir.EffectiveSpatialLag([]float64{2, 0}), 1e-12)
	// Along the minor axis it is scaled by the ratio
	assert.InDelta(t, 1.0, dir.EffectiveSpatialLag([]float64{0, 2}), 1e-12)
}

// TestModelValidate verifies rejection of inadmissible parameters
func TestModelValidate(t *testing.T) {
	good := Model{Family: Exponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5}}
	require.NoError(t, good.Validate())

	bad := []Model{
		{Family: Exponential, Params: Params{Sill: 0, SpatialRange: 10, TemporalRange: 5}},
		{Family: Exponential, Params: Params{Sill: 1, SpatialRange: -1, TemporalRange: 5}},
		{Family: Exponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5, Nugget: -0.1}},
		{Family: NonSeparable, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5, Interaction: 1.5}},
		{Family: DirectionalExponential, Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5, AnisotropyRatio: 0}},
		{Family: Family(99), Params: Params{Sill: 1, SpatialRange: 10, TemporalRange: 5}},
	}
	for i, m := range bad {
		assert.Error(t, m.Validate(), "case %d", i)
	}
}

// TestParseFamily verifies the closed family set round-trips by name
func TestParseFamily(t *testing.T) {
	for _, f := range []Family{Exponential, NonSeparable, DirectionalExponential} {
		parsed, err := ParseFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := ParseFamily("spherical")
	assert.Error(t, err)
}
