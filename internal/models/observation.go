// Package models holds the observation records shared by the estimation
// pipeline. Observations are immutable once ingested: the engine only
// reads them, ownership stays with the calling workflow.
package models

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Point locates an observation or an estimation target in space and time.
// Space is n-dimensional; the coordinate convention (planar or geographic)
// is fixed by the calling context, never auto-detected.
type Point struct {
	// Space holds the spatial coordinates. For geographic data this is
	// (longitude, latitude) in degrees.
	Space []float64

	// Time is the temporal coordinate in the caller's time unit.
	Time float64
}

// HardObservation is an exactly known value of the field at a point.
type HardObservation struct {
	Point

	// Value is the measured field value.
	Value float64
}

// SoftObservation is a probabilistic description of the field value at a
// point. Exactly one of the two forms is populated:
//
//   - parametric: Mean, Variance and the support bounds Lower/Upper
//     (a truncated Gaussian summary);
//   - tabulated: Values and Probs give an explicit probability mass over
//     a finite value grid.
//
// The engine treats soft data as a constraint, never as ground truth.
type SoftObservation struct {
	Point

	// Mean and Variance summarize the parametric form.
	Mean     float64
	Variance float64

	// Lower and Upper bound the parametric support. When both are zero
	// the support defaults to Mean ± 6 standard deviations.
	Lower float64
	Upper float64

	// Values and Probs define the tabulated form. Probs must sum to a
	// positive total; it is renormalized on use.
	Values []float64
	Probs  []float64
}

// Tabulated reports whether the observation carries an explicit
// probability table rather than a parametric summary.
func (s SoftObservation) Tabulated() bool {
	return len(s.Values) > 0
}

// Moments returns the mean and variance of the observation under either
// representation.
func (s SoftObservation) Moments() (mean, variance float64) {
	if !s.Tabulated() {
		return s.Mean, s.Variance
	}
	total := 0.0
	for _, p := range s.Probs {
		total += p
	}
	if total <= 0 {
		return 0, 0
	}
	for i, v := range s.Values {
		mean += v * s.Probs[i] / total
	}
	for i, v := range s.Values {
		d := v - mean
		variance += d * d * s.Probs[i] / total
	}
	return mean, variance
}

// PointMass reports whether the observation has collapsed to a single
// value within eps, and returns that value. A point-mass soft observation
// must be handled exactly like a hard one.
func (s SoftObservation) PointMass(eps float64) (float64, bool) {
	mean, variance := s.Moments()
	if s.Tabulated() {
		nonzero := 0
		for _, p := range s.Probs {
			if p > 0 {
				nonzero++
			}
		}
		if nonzero == 1 {
			return mean, true
		}
	}
	if variance <= eps {
		return mean, true
	}
	return mean, false
}

// Validate checks the observation for internal consistency.
func (s SoftObservation) Validate() error {
	if s.Tabulated() {
		if len(s.Values) != len(s.Probs) {
			return errors.Newf("soft observation: %d values but %d probabilities", len(s.Values), len(s.Probs))
		}
		total := 0.0
		for _, p := range s.Probs {
			if p < 0 || math.IsNaN(p) {
				return errors.New("soft observation: negative or NaN probability mass")
			}
			total += p
		}
		if total <= 0 {
			return errors.New("soft observation: probability table sums to zero")
		}
		return nil
	}
	if s.Variance < 0 || math.IsNaN(s.Variance) {
		return errors.Newf("soft observation: invalid variance %v", s.Variance)
	}
	if s.Lower != 0 || s.Upper != 0 {
		if s.Upper <= s.Lower {
			return errors.Newf("soft observation: empty support [%v, %v]", s.Lower, s.Upper)
		}
	}
	return nil
}

// Support returns the value interval the observation constrains. For the
// parametric form without explicit bounds it spans Mean ± 6 standard
// deviations.
func (s SoftObservation) Support() (lower, upper float64) {
	if s.Tabulated() {
		lower, upper = s.Values[0], s.Values[0]
		for _, v := range s.Values {
			lower = math.Min(lower, v)
			upper = math.Max(upper, v)
		}
		return lower, upper
	}
	if s.Lower != 0 || s.Upper != 0 {
		return s.Lower, s.Upper
	}
	sd := math.Sqrt(s.Variance)
	return s.Mean - 6*sd, s.Mean + 6*sd
}
