// Package neighborhood selects the bounded set of observations used to
// estimate a target point and builds the trend design matrix over them.
package neighborhood

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"envbme/internal/models"
	"envbme/pkg/geometry"
)

// ErrInsufficientData reports that no observation of either kind fell
// inside a target's search window. Estimation must fail explicitly in
// that case, never return a default.
var ErrInsufficientData = errors.New("insufficient data in neighborhood")

// Params bound the search window around a target point.
type Params struct {
	// MaxSpatial is the maximum spatial distance of a candidate.
	MaxSpatial float64 `yaml:"maxSpatial"`

	// MaxTemporal is the maximum absolute temporal lag of a candidate.
	MaxTemporal float64 `yaml:"maxTemporal"`

	// SpaceTimeRatio converts a temporal lag into spatial-distance units
	// for the combined ranking metric d = ds + ratio*|dt|.
	SpaceTimeRatio float64 `yaml:"spaceTimeRatio"`

	// MaxHard and MaxSoft cap how many observations of each kind are
	// retained, nearest first.
	MaxHard int `yaml:"maxHard"`
	MaxSoft int `yaml:"maxSoft"`
}

// Neighborhood is the ordered set of observations selected for one
// target, nearest first within each kind. HardIndex and SoftIndex map
// back to positions in the caller's observation slices; they also fix the
// deterministic tie-break order. A Neighborhood is derived on demand and
// not persisted beyond one estimation call.
type Neighborhood struct {
	Target models.Point

	Hard      []models.HardObservation
	HardIndex []int

	Soft      []models.SoftObservation
	SoftIndex []int
}

// Size returns the total number of selected observations.
func (n *Neighborhood) Size() int {
	return len(n.Hard) + len(n.Soft)
}

// Points returns every neighborhood location in order, hard before soft,
// the row order design matrices are built in.
func (n *Neighborhood) Points() []models.Point {
	pts := make([]models.Point, 0, n.Size())
	for _, h := range n.Hard {
		pts = append(pts, h.Point)
	}
	for _, s := range n.Soft {
		pts = append(pts, s.Point)
	}
	return pts
}

type candidate struct {
	index  int
	metric float64
}

// Select ranks candidate observations around the target by the combined
// space-time metric and returns up to the configured counts per kind,
// nearest first. Ties are broken by original input order, keeping results
// reproducible run to run. It fails with ErrInsufficientData when zero
// observations of both kinds fall inside the window.
func Select(target models.Point, hard []models.HardObservation, soft []models.SoftObservation,
	p Params, conv geometry.Convention) (*Neighborhood, error) {

	hardIdx := rank(target, p, conv, len(hard), func(i int) (models.Point, bool) {
		return hard[i].Point, true
	})
	softIdx := rank(target, p, conv, len(soft), func(i int) (models.Point, bool) {
		return soft[i].Point, true
	})

	if len(hardIdx) == 0 && len(softIdx) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData,
			"no observations within spatial %.4g / temporal %.4g of target", p.MaxSpatial, p.MaxTemporal)
	}

	if p.MaxHard > 0 && len(hardIdx) > p.MaxHard {
		hardIdx = hardIdx[:p.MaxHard]
	}
	if p.MaxSoft > 0 && len(softIdx) > p.MaxSoft {
		softIdx = softIdx[:p.MaxSoft]
	}

	nb := &Neighborhood{Target: target}
	for _, i := range hardIdx {
		nb.Hard = append(nb.Hard, hard[i])
		nb.HardIndex = append(nb.HardIndex, i)
	}
	for _, i := range softIdx {
		nb.Soft = append(nb.Soft, soft[i])
		nb.SoftIndex = append(nb.SoftIndex, i)
	}
	return nb, nil
}

// rank filters candidates by the search window and sorts them by the
// combined metric. sort.SliceStable over input order makes equal-metric
// ordering deterministic.
func rank(target models.Point, p Params, conv geometry.Convention,
	n int, at func(int) (models.Point, bool)) []int {

	cands := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		pt, ok := at(i)
		if !ok {
			continue
		}
		ds := geometry.Distance(conv, target.Space, pt.Space)
		dt := math.Abs(pt.Time - target.Time)
		if ds > p.MaxSpatial || dt > p.MaxTemporal {
			continue
		}
		cands = append(cands, candidate{index: i, metric: ds + p.SpaceTimeRatio*dt})
	}
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].metric < cands[b].metric
	})
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.index
	}
	return out
}
