package solver

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"envbme/internal/models"
)

// problem is one target's zero-mean residual estimation problem: trend
// already removed, observations ordered hard then soft.
type problem struct {
	nh        int
	points    []models.Point
	target    models.Point
	resid     []float64
	soft      []models.SoftObservation
	softTrend []float64
}

// integrate produces the posterior mean, variance and standardized
// skewness of the residual field at the target. Purely hard-conditioned
// problems reduce to a simple kriging solve; soft constraints are handled
// by integrating the conditional-Gaussian moment equations over the soft
// supports.
func (e *Estimator) integrate(p problem) (mean, variance, skew float64, err error) {
	n := len(p.points)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, e.pairCovariance(p.points[i], p.points[j]))
		}
	}
	k0 := make([]float64, n)
	for i := 0; i < n; i++ {
		k0[i] = e.pairCovariance(p.target, p.points[i])
	}
	c00 := e.model.ZeroLag()

	if len(p.soft) == 0 {
		mean, variance, err = krigingSolve(k, k0, c00, p.resid)
		return mean, variance, 0, err
	}
	return e.softSolve(p, k, k0, c00)
}

// pairCovariance evaluates the model at the space-time lag between two
// points, routing the separation vector through the model's anisotropy
// transform.
func (e *Estimator) pairCovariance(a, b models.Point) float64 {
	delta := make([]float64, len(a.Space))
	for d := range delta {
		delta[d] = b.Space[d] - a.Space[d]
	}
	ds := e.model.EffectiveSpatialLag(delta)
	return e.model.Evaluate(ds, b.Time-a.Time)
}

// krigingSolve is the linear, hard-only path: simple kriging weights from
// the Cholesky factorization of the neighborhood covariance.
func krigingSolve(k *mat.SymDense, k0 []float64, c00 float64, resid []float64) (float64, float64, error) {
	n := len(resid)
	var chol mat.Cholesky
	if ok := chol.Factorize(k); !ok {
		return 0, 0, errors.Wrap(ErrSingularCovariance,
			"check for duplicate or colocated observations")
	}
	weights := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(weights, mat.NewVecDense(n, k0)); err != nil {
		return 0, 0, errors.Wrap(ErrSingularCovariance, err.Error())
	}
	mean := 0.0
	variance := c00
	for i := 0; i < n; i++ {
		mean += weights.AtVec(i) * resid[i]
		variance -= weights.AtVec(i) * k0[i]
	}
	if variance < 0 {
		variance = 0
	}
	return mean, variance, nil
}

// conditional holds the Gaussian conditional of (target, soft residuals)
// given the hard residuals. It is independent of the quadrature node
// count, so it is assembled once per target.
type conditional struct {
	muK    float64
	muS    []float64
	sigKK  float64
	b      []float64 // regression of target on soft, given hard
	cVar   float64   // Var[target | hard, soft]
	normal *distmv.Normal
}

func (e *Estimator) condition(p problem, k *mat.SymDense, k0 []float64, c00 float64) (*conditional, error) {
	nh, ns := p.nh, len(p.soft)

	kss := mat.NewSymDense(ns, nil)
	for i := 0; i < ns; i++ {
		for j := i; j < ns; j++ {
			kss.SetSym(i, j, k.At(nh+i, nh+j))
		}
	}
	k0s := k0[nh:]

	c := &conditional{
		muK:   0,
		muS:   make([]float64, ns),
		sigKK: c00,
		b:     make([]float64, ns),
	}
	condSS := mat.NewSymDense(ns, nil)
	condSS.CopySym(kss)
	sigKS := append([]float64(nil), k0s...)

	if nh > 0 {
		khh := mat.NewSymDense(nh, nil)
		for i := 0; i < nh; i++ {
			for j := i; j < nh; j++ {
				khh.SetSym(i, j, k.At(i, j))
			}
		}
		khs := mat.NewDense(nh, ns, nil)
		for i := 0; i < nh; i++ {
			for j := 0; j < ns; j++ {
				khs.Set(i, j, k.At(i, nh+j))
			}
		}
		k0h := k0[:nh]

		var chol mat.Cholesky
		if ok := chol.Factorize(khh); !ok {
			return nil, errors.Wrap(ErrSingularCovariance,
				"check for duplicate or colocated observations")
		}

		alpha := mat.NewVecDense(nh, nil)
		if err := chol.SolveVecTo(alpha, mat.NewVecDense(nh, append([]float64(nil), p.resid...))); err != nil {
			return nil, errors.Wrap(ErrSingularCovariance, err.Error())
		}
		w := mat.NewDense(nh, ns, nil)
		if err := chol.SolveTo(w, khs); err != nil {
			return nil, errors.Wrap(ErrSingularCovariance, err.Error())
		}
		v := mat.NewVecDense(nh, nil)
		if err := chol.SolveVecTo(v, mat.NewVecDense(nh, append([]float64(nil), k0h...))); err != nil {
			return nil, errors.Wrap(ErrSingularCovariance, err.Error())
		}

		for j := 0; j < ns; j++ {
			for i := 0; i < nh; i++ {
				c.muS[j] += khs.At(i, j) * alpha.AtVec(i)
				sigKS[j] -= khs.At(i, j) * v.AtVec(i)
			}
		}
		for i := 0; i < nh; i++ {
			c.muK += k0h[i] * alpha.AtVec(i)
			c.sigKK -= k0h[i] * v.AtVec(i)
		}
		for a := 0; a < ns; a++ {
			for bIdx := a; bIdx < ns; bIdx++ {
				reduced := kss.At(a, bIdx)
				for i := 0; i < nh; i++ {
					reduced -= khs.At(i, a) * w.At(i, bIdx)
				}
				condSS.SetSym(a, bIdx, reduced)
			}
		}
	}

	normal, ok := distmv.NewNormal(c.muS, condSS, nil)
	if !ok {
		return nil, errors.Wrap(ErrSingularCovariance,
			"conditional soft covariance is not positive definite")
	}
	c.normal = normal

	var cholS mat.Cholesky
	if ok := cholS.Factorize(condSS); !ok {
		return nil, errors.Wrap(ErrSingularCovariance,
			"conditional soft covariance is not positive definite")
	}
	bVec := mat.NewVecDense(ns, nil)
	if err := cholS.SolveVecTo(bVec, mat.NewVecDense(ns, append([]float64(nil), sigKS...))); err != nil {
		return nil, errors.Wrap(ErrSingularCovariance, err.Error())
	}
	c.cVar = c.sigKK
	for j := 0; j < ns; j++ {
		c.b[j] = bVec.AtVec(j)
		c.cVar -= bVec.AtVec(j) * sigKS[j]
	}
	if c.cVar < 0 {
		c.cVar = 0
	}
	return c, nil
}

// softSolve iterates the moment integration, doubling the quadrature node
// count until mean and variance stabilize within the configured tolerance
// or the iteration cap is hit.
func (e *Estimator) softSolve(p problem, k *mat.SymDense, k0 []float64, c00 float64) (float64, float64, float64, error) {
	cond, err := e.condition(p, k, k0, c00)
	if err != nil {
		return 0, 0, 0, err
	}

	nodes := e.opts.QuadratureNodes
	var prevMean, prevVar float64
	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		mean, variance, skew, exact, err := e.evaluateGrid(p, cond, nodes)
		if err != nil {
			return 0, 0, 0, err
		}
		if exact {
			// Tabulated soft data enumerates its full mass; there is
			// nothing to refine.
			return mean, variance, skew, nil
		}
		if iter > 0 &&
			math.Abs(mean-prevMean) <= e.opts.Tolerance*(1+math.Abs(mean)) &&
			math.Abs(variance-prevVar) <= e.opts.Tolerance*(1+variance) {
			return mean, variance, skew, nil
		}
		prevMean, prevVar = mean, variance

		next := nodes * 2
		if next > e.opts.MaxQuadratureNodes {
			next = e.opts.MaxQuadratureNodes
		}
		if next == nodes {
			return 0, 0, 0, errors.Wrapf(ErrNonConvergence,
				"node cap %d reached before tolerance %.2g", nodes, e.opts.Tolerance)
		}
		nodes = next
	}
	return 0, 0, 0, errors.Wrapf(ErrNonConvergence,
		"iteration cap %d exceeded", e.opts.MaxIterations)
}

// evaluateGrid integrates the moment equations over the product grid of
// the soft supports at the given node count.
func (e *Estimator) evaluateGrid(p problem, cond *conditional, nodes int) (mean, variance, skew float64, exact bool, err error) {
	ns := len(p.soft)
	sets := make([]nodeSet, ns)
	exact = true
	for j, s := range p.soft {
		set, err := softNodes(s, nodes, e.opts.CDFEpsilon)
		if err != nil {
			return 0, 0, 0, false, err
		}
		sets[j] = set.shifted(p.softTrend[j])
		exact = exact && set.exact
	}

	idx := make([]int, ns)
	svec := make([]float64, ns)
	var z, m1, m2, m3 float64
	for {
		w := 1.0
		for j, i := range idx {
			w *= sets[j].weights[i]
			svec[j] = sets[j].values[i]
		}
		if w != 0 {
			gw := math.Exp(cond.normal.LogProb(svec))
			wt := w * gw
			eCond := cond.muK
			for j := range svec {
				eCond += cond.b[j] * (svec[j] - cond.muS[j])
			}
			z += wt
			m1 += wt * eCond
			m2 += wt * (cond.cVar + eCond*eCond)
			m3 += wt * (eCond*eCond*eCond + 3*eCond*cond.cVar)
		}

		// Odometer over the product grid.
		j := 0
		for ; j < ns; j++ {
			idx[j]++
			if idx[j] < len(sets[j].values) {
				break
			}
			idx[j] = 0
		}
		if j == ns {
			break
		}
	}

	if !(z > 0) || math.IsNaN(z) {
		return 0, 0, 0, false, errors.Wrap(ErrNonConvergence,
			"posterior mass vanished over the soft supports")
	}
	mean = m1 / z
	ex2 := m2 / z
	variance = ex2 - mean*mean
	if variance < 0 {
		variance = 0
	}
	mu3 := m3/z - 3*mean*ex2 + 2*mean*mean*mean
	if variance > 1e-300 {
		skew = mu3 / math.Pow(variance, 1.5)
	}
	return mean, variance, skew, exact, nil
}
