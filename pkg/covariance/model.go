// Package covariance estimates empirical spatiotemporal covariance from
// observation pairs and fits closed-form theoretical models to it. Fitted
// models are read-only and reusable across estimation calls.
package covariance

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Family identifies a theoretical covariance model. The set is closed:
// every family carries its own parameter schema and is evaluated through
// Model.Evaluate, so an unknown family is a hard error rather than a
// silent fallthrough.
type Family int

const (
	// Exponential is the separable exponential space-time model.
	Exponential Family = iota

	// NonSeparable adds a bounded space-time interaction term to the
	// exponential decay.
	NonSeparable

	// DirectionalExponential is the exponential model with a geometric
	// anisotropy transform applied to the spatial separation.
	DirectionalExponential
)

func (f Family) String() string {
	switch f {
	case Exponential:
		return "exponential"
	case NonSeparable:
		return "non-separable"
	case DirectionalExponential:
		return "directional-exponential"
	default:
		return "unknown"
	}
}

// MarshalYAML renders the family by name.
func (f Family) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

// UnmarshalYAML accepts the names produced by String.
func (f *Family) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseFamily(name)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFamily converts a configuration string into a Family.
func ParseFamily(name string) (Family, error) {
	switch name {
	case "exponential":
		return Exponential, nil
	case "non-separable":
		return NonSeparable, nil
	case "directional-exponential":
		return DirectionalExponential, nil
	default:
		return 0, errors.Newf("unknown covariance family %q", name)
	}
}

// Params are the scalar coefficients of a covariance model. Which fields
// are meaningful depends on the family.
type Params struct {
	// Sill is the variance reached at zero lag, excluding the nugget.
	Sill float64 `yaml:"sill"`

	// SpatialRange and TemporalRange scale the exponential decay; the
	// model reaches about 5% of the sill at these lags.
	SpatialRange  float64 `yaml:"spatialRange"`
	TemporalRange float64 `yaml:"temporalRange"`

	// Nugget is the discontinuity at the origin.
	Nugget float64 `yaml:"nugget"`

	// Interaction couples space and time lags for the NonSeparable
	// family. It must stay within [0, 1] to keep the composite model
	// monotone non-increasing and admissible over the lag ranges used.
	Interaction float64 `yaml:"interaction"`

	// AnisotropyRatio and AnisotropyAngle (radians) define the geometric
	// anisotropy of the DirectionalExponential family: separations along
	// the minor axis are scaled by the ratio before evaluation.
	AnisotropyRatio float64 `yaml:"anisotropyRatio"`
	AnisotropyAngle float64 `yaml:"anisotropyAngle"`
}

// Model pairs a family with its fitted parameters.
type Model struct {
	Family Family `yaml:"family"`
	Params Params `yaml:"params"`
}

// Validate checks that the parameters are admissible for the family.
// Inadmissible parameters must be detected here, not silently tolerated
// downstream.
func (m Model) Validate() error {
	p := m.Params
	if !(p.Sill > 0) {
		return errors.Newf("covariance model: sill must be positive, got %v", p.Sill)
	}
	if !(p.SpatialRange > 0) || !(p.TemporalRange > 0) {
		return errors.Newf("covariance model: ranges must be positive, got spatial=%v temporal=%v",
			p.SpatialRange, p.TemporalRange)
	}
	if p.Nugget < 0 || math.IsNaN(p.Nugget) {
		return errors.Newf("covariance model: nugget must be non-negative, got %v", p.Nugget)
	}
	switch m.Family {
	case NonSeparable:
		if p.Interaction < 0 || p.Interaction > 1 {
			return errors.Newf("covariance model: interaction must lie in [0,1], got %v", p.Interaction)
		}
	case DirectionalExponential:
		if !(p.AnisotropyRatio > 0) || p.AnisotropyRatio > 1 {
			return errors.Newf("covariance model: anisotropy ratio must lie in (0,1], got %v", p.AnisotropyRatio)
		}
	case Exponential:
	default:
		return errors.Newf("covariance model: unknown family %d", int(m.Family))
	}
	return nil
}

// Evaluate returns the covariance at the given spatial and temporal lags.
// Lags are scalar separations; for the directional family the spatial lag
// should already be anisotropy-corrected via EffectiveSpatialLag. The
// function is exact at zero lag (sill plus nugget) and decays
// monotonically in each lag dimension.
func (m Model) Evaluate(spatialLag, temporalLag float64) float64 {
	p := m.Params
	ds := math.Abs(spatialLag)
	dt := math.Abs(temporalLag)

	c := p.Sill * math.Exp(-3*ds/p.SpatialRange-3*dt/p.TemporalRange)
	if m.Family == NonSeparable {
		c *= math.Exp(-3 * p.Interaction * ds * dt / (p.SpatialRange * p.TemporalRange))
	}

	// The nugget is a discontinuity at the origin only.
	if ds == 0 && dt == 0 {
		c += p.Nugget
	}
	return c
}

// EffectiveSpatialLag reduces a spatial separation vector to the scalar
// lag the model is evaluated at. For the directional family the first two
// dimensions are rotated into the anisotropy frame and the minor axis is
// scaled by the ratio; other families use the Euclidean norm.
func (m Model) EffectiveSpatialLag(delta []float64) float64 {
	if m.Family != DirectionalExponential || len(delta) < 2 {
		sum := 0.0
		for _, d := range delta {
			sum += d * d
		}
		return math.Sqrt(sum)
	}
	angle := m.Params.AnisotropyAngle
	ratio := m.Params.AnisotropyRatio
	dx := delta[0]*math.Cos(angle) + delta[1]*math.Sin(angle)
	dy := (-delta[0]*math.Sin(angle) + delta[1]*math.Cos(angle)) * ratio
	sum := dx*dx + dy*dy
	for _, d := range delta[2:] {
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ZeroLag returns the model value at the origin, sill plus nugget.
func (m Model) ZeroLag() float64 {
	return m.Params.Sill + m.Params.Nugget
}
