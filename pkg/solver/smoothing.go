package solver

import (
	"math"

	"github.com/cockroachdb/errors"

	"envbme/internal/models"
	"envbme/pkg/geometry"
	"envbme/pkg/neighborhood"
)

// Smoothing is the local-mean decomposition of an estimation problem:
// one moving spatiotemporal mean per hard observation, soft observation
// and target point, plus residual-shifted copies of the observations.
// Callers estimate on the residuals and add the target means back onto
// the resulting best estimates.
type Smoothing struct {
	HardMeans   []float64
	SoftMeans   []float64
	TargetMeans []float64

	Hard []models.HardObservation
	Soft []models.SoftObservation
}

// Smooth computes a moving mean of the hard values around every hard,
// soft and target location using the same combined space-time window as
// neighborhood selection, and returns observations shifted into the
// residual frame. Locations with an empty window fall back to the global
// hard mean, so smoothing never fails per point.
func Smooth(hard []models.HardObservation, soft []models.SoftObservation,
	targets []models.Point, p neighborhood.Params, conv geometry.Convention) (*Smoothing, error) {

	if len(hard) == 0 {
		return nil, errors.New("smoothing requires at least one hard observation")
	}
	global := 0.0
	for _, h := range hard {
		global += h.Value
	}
	global /= float64(len(hard))

	localMean := func(pt models.Point) float64 {
		sum, count := 0.0, 0
		for _, h := range hard {
			ds := geometry.Distance(conv, pt.Space, h.Space)
			dt := math.Abs(h.Time - pt.Time)
			if ds > p.MaxSpatial || dt > p.MaxTemporal {
				continue
			}
			sum += h.Value
			count++
			if p.MaxHard > 0 && count >= p.MaxHard {
				break
			}
		}
		if count == 0 {
			return global
		}
		return sum / float64(count)
	}

	s := &Smoothing{
		HardMeans:   make([]float64, len(hard)),
		SoftMeans:   make([]float64, len(soft)),
		TargetMeans: make([]float64, len(targets)),
		Hard:        make([]models.HardObservation, len(hard)),
		Soft:        make([]models.SoftObservation, len(soft)),
	}
	for i, h := range hard {
		s.HardMeans[i] = localMean(h.Point)
		shifted := h
		shifted.Value -= s.HardMeans[i]
		s.Hard[i] = shifted
	}
	for i, so := range soft {
		s.SoftMeans[i] = localMean(so.Point)
		shifted := so
		if so.Tabulated() {
			shifted.Values = make([]float64, len(so.Values))
			for j, v := range so.Values {
				shifted.Values[j] = v - s.SoftMeans[i]
			}
		} else {
			shifted.Mean -= s.SoftMeans[i]
			if so.Lower != 0 || so.Upper != 0 {
				shifted.Lower -= s.SoftMeans[i]
				shifted.Upper -= s.SoftMeans[i]
			}
		}
		s.Soft[i] = shifted
	}
	for i, t := range targets {
		s.TargetMeans[i] = localMean(t)
	}
	return s, nil
}

// Restore adds the target-point moving means back onto batch results,
// leaving failed items untouched.
func (s *Smoothing) Restore(items []BatchItem) {
	for i := range items {
		if items[i].Err != nil || items[i].Result == nil {
			continue
		}
		items[i].Result.Mean += s.TargetMeans[items[i].Index]
	}
}
