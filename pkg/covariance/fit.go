package covariance

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/optimize"
)

// ErrFitDivergence reports that covariance model fitting did not converge
// within its iteration budget, or converged to inadmissible parameters.
var ErrFitDivergence = errors.New("covariance fit diverged")

// FitOptions bound the optimizer run.
type FitOptions struct {
	// MaxIterations caps the optimizer's major iterations.
	MaxIterations int

	// MaxEvaluations caps objective evaluations; zero means 100 times
	// MaxIterations.
	MaxEvaluations int
}

// DefaultFitOptions returns the iteration budget used when the caller
// does not supply one.
func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIterations: 1000}
}

// FitResult carries the fitted model together with the achieved residual
// norm of the weighted least-squares objective.
type FitResult struct {
	Model        Model
	ResidualNorm float64
	Evaluations  int
}

// Fit minimizes the pair-count-weighted sum of squared residuals between
// the empirical surface and the theoretical model evaluated at the mean
// lags of each populated bin. The optimizer is Nelder-Mead over the
// family's free parameters; non-negativity is enforced through a penalty
// so the simplex is steered back into the admissible region.
//
// Fit fails with ErrFitDivergence when the optimizer exhausts its budget
// or the minimizer violates the family's admissibility constraints. For
// the DirectionalExponential family the anisotropy pair is held fixed at
// the initial guess; only sill, ranges and nugget are optimized.
func Fit(surface *Surface, family Family, initial Params, opts FitOptions) (*FitResult, error) {
	if surface == nil {
		return nil, errors.New("covariance fit: nil empirical surface")
	}
	if opts.MaxIterations <= 0 {
		opts = DefaultFitOptions()
	}

	populated := 0
	for i := range surface.Values {
		for j := range surface.Values[i] {
			if surface.HasData(i, j) {
				populated++
			}
		}
	}
	free := freeParams(family)
	if populated < free {
		return nil, errors.Wrapf(ErrFitDivergence,
			"only %d populated covariance bins for %d free parameters", populated, free)
	}

	x0 := vectorize(family, initial)
	objective := func(x []float64) float64 {
		m := Model{Family: family, Params: devectorize(family, initial, x)}
		if pen := admissibilityPenalty(m); pen > 0 {
			return pen
		}
		return ssr(surface, m)
	}

	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		FuncEvaluations: opts.MaxEvaluations,
	}
	if settings.FuncEvaluations == 0 {
		settings.FuncEvaluations = 100 * opts.MaxIterations
	}

	problem := optimize.Problem{Func: objective}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, errors.Wrap(ErrFitDivergence, err.Error())
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.Failure, optimize.NotTerminated:
		return nil, errors.Wrapf(ErrFitDivergence, "optimizer stopped with status %v", result.Status)
	}

	fitted := Model{Family: family, Params: devectorize(family, initial, result.X)}
	if err := fitted.Validate(); err != nil {
		return nil, errors.Wrap(ErrFitDivergence, err.Error())
	}
	return &FitResult{
		Model:        fitted,
		ResidualNorm: math.Sqrt(result.F),
		Evaluations:  result.Stats.FuncEvaluations,
	}, nil
}

// ssr is the pair-count-weighted sum of squared residuals between the
// empirical surface and the model, skipping no-data bins.
func ssr(surface *Surface, m Model) float64 {
	sum := 0.0
	for i := range surface.Values {
		for j := range surface.Values[i] {
			if !surface.HasData(i, j) {
				continue
			}
			r := surface.Values[i][j] - m.Evaluate(surface.MeanSpatial[i][j], surface.MeanTemporal[i][j])
			sum += float64(surface.Pairs[i][j]) * r * r
		}
	}
	return sum
}

// admissibilityPenalty returns zero for admissible parameters and a value
// that grows with the violation otherwise, keeping the objective finite so
// the simplex can recover.
func admissibilityPenalty(m Model) float64 {
	p := m.Params
	pen := 0.0
	if p.Sill <= 0 {
		pen += 1 - p.Sill
	}
	if p.SpatialRange <= 0 {
		pen += 1 - p.SpatialRange
	}
	if p.TemporalRange <= 0 {
		pen += 1 - p.TemporalRange
	}
	if p.Nugget < 0 {
		pen += -p.Nugget
	}
	if m.Family == NonSeparable {
		if p.Interaction < 0 {
			pen += -p.Interaction
		}
		if p.Interaction > 1 {
			pen += p.Interaction - 1
		}
	}
	if pen > 0 {
		return 1e12 * (1 + pen)
	}
	return 0
}

func freeParams(family Family) int {
	if family == NonSeparable {
		return 5
	}
	return 4
}

func vectorize(family Family, p Params) []float64 {
	x := []float64{p.Sill, p.SpatialRange, p.TemporalRange, p.Nugget}
	if family == NonSeparable {
		x = append(x, p.Interaction)
	}
	return x
}

func devectorize(family Family, base Params, x []float64) Params {
	p := base
	p.Sill, p.SpatialRange, p.TemporalRange, p.Nugget = x[0], x[1], x[2], x[3]
	if family == NonSeparable {
		p.Interaction = x[4]
	}
	return p
}
