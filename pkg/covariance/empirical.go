package covariance

import (
	"math"

	"github.com/cockroachdb/errors"

	"envbme/internal/models"
	"envbme/pkg/geometry"
)

// Surface is a binned empirical covariance estimate. Values[i][j] is the
// mean product of centered values for observation pairs whose spatial
// separation falls in spatial bin i and temporal separation in temporal
// bin j. Bins with zero pairs hold NaN and a zero pair count: absence and
// an exactly zero covariance are always distinguishable.
type Surface struct {
	// SpatialLags and TemporalLags are the upper bin edges used; the
	// first bin starts at zero.
	SpatialLags  []float64
	TemporalLags []float64

	// Values holds the empirical covariance per bin, NaN when empty.
	Values [][]float64

	// Pairs counts the observation pairs contributing to each bin.
	Pairs [][]int

	// MeanSpatial and MeanTemporal are the average separations of the
	// pairs in each bin, the lags the theoretical model is fitted at.
	MeanSpatial  [][]float64
	MeanTemporal [][]float64
}

// HasData reports whether bin (i, j) received at least one pair.
func (s *Surface) HasData(i, j int) bool {
	return s.Pairs[i][j] > 0
}

// sample is one centered observation usable for covariance estimation:
// hard values directly, soft observations through their mean.
type sample struct {
	space []float64
	time  float64
	value float64
}

// Empirical buckets all observation pairs into the supplied lag bins and
// computes the mean product of centered values per bin. Soft observations
// contribute their first moment. Bin edges must be strictly increasing.
func Empirical(hard []models.HardObservation, soft []models.SoftObservation,
	spatialLags, temporalLags []float64, conv geometry.Convention) (*Surface, error) {
	return empirical(hard, soft, spatialLags, temporalLags, nil, 0, conv)
}

// Directional is Empirical restricted to pairs whose axial bearing falls
// within tolerance degrees of each sector center. It returns one surface
// per sector, in sector order, with the same binning and no-data
// semantics. Comparing fitted ranges across sectors exposes anisotropy.
func Directional(hard []models.HardObservation, soft []models.SoftObservation,
	spatialLags, temporalLags, sectors []float64, tolerance float64,
	conv geometry.Convention) ([]*Surface, error) {
	out := make([]*Surface, len(sectors))
	for k, center := range sectors {
		s, err := empirical(hard, soft, spatialLags, temporalLags, &center, tolerance, conv)
		if err != nil {
			return nil, errors.Wrapf(err, "sector %.1f", center)
		}
		out[k] = s
	}
	return out, nil
}

func empirical(hard []models.HardObservation, soft []models.SoftObservation,
	spatialLags, temporalLags []float64, sector *float64, tolerance float64,
	conv geometry.Convention) (*Surface, error) {

	if len(spatialLags) == 0 || len(temporalLags) == 0 {
		return nil, errors.New("empirical covariance: lag bins must not be empty")
	}
	for i := 1; i < len(spatialLags); i++ {
		if spatialLags[i] <= spatialLags[i-1] {
			return nil, errors.New("empirical covariance: spatial lag edges must be strictly increasing")
		}
	}
	for i := 1; i < len(temporalLags); i++ {
		if temporalLags[i] <= temporalLags[i-1] {
			return nil, errors.New("empirical covariance: temporal lag edges must be strictly increasing")
		}
	}

	samples := make([]sample, 0, len(hard)+len(soft))
	for _, h := range hard {
		samples = append(samples, sample{space: h.Space, time: h.Time, value: h.Value})
	}
	for _, s := range soft {
		mean, _ := s.Moments()
		samples = append(samples, sample{space: s.Space, time: s.Time, value: mean})
	}
	if len(samples) < 2 {
		return nil, errors.Newf("empirical covariance: need at least 2 observations, got %d", len(samples))
	}

	// Center on the overall mean so bin products estimate covariance.
	total := 0.0
	for _, s := range samples {
		total += s.value
	}
	center := total / float64(len(samples))

	ns, nt := len(spatialLags), len(temporalLags)
	surf := &Surface{
		SpatialLags:  append([]float64(nil), spatialLags...),
		TemporalLags: append([]float64(nil), temporalLags...),
		Values:       makeGrid(ns, nt),
		Pairs:        makeIntGrid(ns, nt),
		MeanSpatial:  makeGrid(ns, nt),
		MeanTemporal: makeGrid(ns, nt),
	}
	sums := makeGrid(ns, nt)
	sumDs := makeGrid(ns, nt)
	sumDt := makeGrid(ns, nt)

	for i := 0; i < len(samples); i++ {
		for j := i; j < len(samples); j++ {
			ds := geometry.Distance(conv, samples[i].space, samples[j].space)
			dt := math.Abs(samples[j].time - samples[i].time)
			si := binIndex(ds, spatialLags)
			ti := binIndex(dt, temporalLags)
			if si < 0 || ti < 0 {
				continue
			}
			if sector != nil && i != j {
				b := geometry.Bearing(conv, samples[i].space, samples[j].space)
				if !geometry.InSector(b, *sector, tolerance) {
					continue
				}
			}
			sums[si][ti] += (samples[i].value - center) * (samples[j].value - center)
			sumDs[si][ti] += ds
			sumDt[si][ti] += dt
			surf.Pairs[si][ti]++
		}
	}

	for i := 0; i < ns; i++ {
		for j := 0; j < nt; j++ {
			n := surf.Pairs[i][j]
			if n == 0 {
				surf.Values[i][j] = math.NaN()
				surf.MeanSpatial[i][j] = math.NaN()
				surf.MeanTemporal[i][j] = math.NaN()
				continue
			}
			surf.Values[i][j] = sums[i][j] / float64(n)
			surf.MeanSpatial[i][j] = sumDs[i][j] / float64(n)
			surf.MeanTemporal[i][j] = sumDt[i][j] / float64(n)
		}
	}
	return surf, nil
}

// binIndex maps a separation onto the bin whose upper edge first contains
// it; the first bin starts at zero. Separations beyond the last edge are
// discarded.
func binIndex(v float64, edges []float64) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return -1
}

func makeGrid(n, m int) [][]float64 {
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, m)
	}
	return g
}

func makeIntGrid(n, m int) [][]int {
	g := make([][]int, n)
	for i := range g {
		g[i] = make([]int, m)
	}
	return g
}

// LogSpacedLags builds n lag edges compressed toward the origin,
// max*(1 - log(n+1-i)/log(n)) for i = 1..n. Short lags get narrow bins
// where pair density is highest.
func LogSpacedLags(max float64, n int) []float64 {
	if n < 1 {
		return nil
	}
	if n == 1 {
		return []float64{max}
	}
	out := make([]float64, n)
	for i := 1; i <= n; i++ {
		out[i-1] = max * (1 - math.Log(float64(n+1-i))/math.Log(float64(n)))
	}
	// The first edge is exactly zero: that bin collects colocated pairs,
	// which estimate the sill-plus-nugget value.
	return out
}
