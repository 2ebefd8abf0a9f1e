// Package solver computes posterior moment estimates at target points by
// fusing hard observations with probabilistic soft constraints under a
// fitted spatiotemporal covariance model.
package solver

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"

	"envbme/internal/models"
)

// nodeSet is the uniform internal representation of one soft variable for
// moment integration: value nodes with probability weights. Parametric and
// tabulated soft observations both reduce to this before quadrature, so a
// single code path handles either form.
type nodeSet struct {
	values  []float64
	weights []float64

	// exact marks node sets that already enumerate the full probability
	// mass (tabulated data); refining the node count cannot change them.
	exact bool
}

// softNodes discretizes a soft observation into n integration nodes. For
// the parametric form these are Gauss-Legendre nodes over the support,
// weighted by the truncated-Gaussian density; the tabulated form passes
// its grid through unchanged.
//
// cdfEps guards the truncation constant: when the support sits so far in
// the tails that the cumulative probability difference pins at zero (or
// the upper value pins at 1), the constant is clamped to cdfEps instead
// of dividing by zero. The epsilon is a tunable policy, not a constant.
func softNodes(s models.SoftObservation, n int, cdfEps float64) (nodeSet, error) {
	if s.Tabulated() {
		total := 0.0
		for _, p := range s.Probs {
			total += p
		}
		if total <= 0 {
			return nodeSet{}, errors.New("soft observation: probability table sums to zero")
		}
		ns := nodeSet{
			values:  append([]float64(nil), s.Values...),
			weights: make([]float64, len(s.Probs)),
			exact:   true,
		}
		for i, p := range s.Probs {
			ns.weights[i] = p / total
		}
		return ns, nil
	}

	sd := math.Sqrt(s.Variance)
	if !(sd > 0) {
		return nodeSet{}, errors.New("soft observation: parametric form requires positive variance")
	}
	lower, upper := s.Support()
	dist := distuv.Normal{Mu: s.Mean, Sigma: sd}
	norm := dist.CDF(upper) - dist.CDF(lower)
	if norm < cdfEps {
		norm = cdfEps
	}

	x := make([]float64, n)
	w := make([]float64, n)
	quad.Legendre{}.FixedLocations(x, w, lower, upper)
	ns := nodeSet{values: x, weights: make([]float64, n)}
	for i := range x {
		ns.weights[i] = w[i] * dist.Prob(x[i]) / norm
	}
	return ns, nil
}

// shifted returns a copy of the node set with every value offset by -mean,
// moving the soft support into the zero-mean residual frame the solver
// works in.
func (n nodeSet) shifted(mean float64) nodeSet {
	out := nodeSet{
		values:  make([]float64, len(n.values)),
		weights: n.weights,
		exact:   n.exact,
	}
	for i, v := range n.values {
		out.values[i] = v - mean
	}
	return out
}
