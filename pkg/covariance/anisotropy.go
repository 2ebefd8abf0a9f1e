package covariance

import (
	"math"

	"github.com/cockroachdb/errors"
)

// AnisotropySummary condenses per-sector covariance ranges into a single
// geometric anisotropy description.
type AnisotropySummary struct {
	// Ratio is the minor over major range, in (0, 1].
	Ratio float64

	// Direction is the major-axis angle in radians.
	Direction float64
}

// AnisotropyFromRanges derives the anisotropy ratio and major-axis
// direction from spatial ranges fitted per directional sector. Sector
// centers are in degrees; NaN ranges (sectors whose fit failed) are
// skipped.
func AnisotropyFromRanges(sectors, ranges []float64) (AnisotropySummary, error) {
	if len(sectors) != len(ranges) {
		return AnisotropySummary{}, errors.Newf("anisotropy: %d sectors but %d ranges", len(sectors), len(ranges))
	}
	maxRange, minRange := 0.0, math.MaxFloat64
	direction := 0.0
	valid := 0
	for i, r := range ranges {
		if math.IsNaN(r) || r <= 0 {
			continue
		}
		valid++
		if r > maxRange {
			maxRange = r
			direction = sectors[i] * math.Pi / 180
		}
		if r < minRange {
			minRange = r
		}
	}
	if valid < 2 {
		return AnisotropySummary{}, errors.Newf("anisotropy: need at least 2 usable sectors, got %d", valid)
	}
	return AnisotropySummary{Ratio: minRange / maxRange, Direction: direction}, nil
}

// SectorRanges fits an exponential model to every directional surface and
// returns the fitted spatial range per sector, NaN where the fit
// diverged. The caller decides whether partial failures matter.
func SectorRanges(surfaces []*Surface, initial Params, opts FitOptions) []float64 {
	ranges := make([]float64, len(surfaces))
	for i, s := range surfaces {
		res, err := Fit(s, Exponential, initial, opts)
		if err != nil {
			ranges[i] = math.NaN()
			continue
		}
		ranges[i] = res.Model.Params.SpatialRange
	}
	return ranges
}
