package solver

import (
	"math"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"envbme/internal/models"
	"envbme/pkg/covariance"
	"envbme/pkg/geometry"
	"envbme/pkg/neighborhood"
)

// ErrSingularCovariance reports that a neighborhood covariance matrix was
// not invertible, typically caused by duplicate or colocated observation
// points.
var ErrSingularCovariance = errors.New("singular neighborhood covariance")

// ErrNonConvergence reports that the moment integration did not reach the
// configured tolerance within its iteration cap. The condition is
// reported, never silently truncated.
var ErrNonConvergence = errors.New("moment integration did not converge")

// coincidentTol is the combined-metric distance under which a target is
// treated as coincident with a hard observation.
const coincidentTol = 1e-9

// Options is the full configuration surface of the moment solver.
type Options struct {
	// Neighborhood bounds the observation search window per target.
	Neighborhood neighborhood.Params `yaml:"neighborhood"`

	// Trend configures the design-matrix basis removed before residual
	// estimation.
	Trend neighborhood.TrendSpec `yaml:"trend"`

	// QuadratureNodes is the initial Gauss-Legendre node count per soft
	// variable; the solver doubles it until the moments stabilize.
	QuadratureNodes int `yaml:"quadratureNodes"`

	// MaxQuadratureNodes caps the node count per soft variable, bounding
	// worst-case cost per target point.
	MaxQuadratureNodes int `yaml:"maxQuadratureNodes"`

	// MaxSoftInIntegration caps how many soft variables enter one moment
	// integration; farther soft neighbors beyond the cap are dropped.
	MaxSoftInIntegration int `yaml:"maxSoftInIntegration"`

	// Tolerance is the relative change under which the iterated moments
	// are accepted.
	Tolerance float64 `yaml:"tolerance"`

	// MaxIterations caps the refinement loop.
	MaxIterations int `yaml:"maxIterations"`

	// PointMassVariance is the variance under which a soft observation
	// is folded into the hard set.
	PointMassVariance float64 `yaml:"pointMassVariance"`

	// CDFEpsilon clamps degenerate truncation constants; see softNodes.
	CDFEpsilon float64 `yaml:"cdfEpsilon"`

	// Convention fixes the coordinate interpretation.
	Convention geometry.Convention `yaml:"convention"`
}

// DefaultOptions returns a configuration suited to typical environmental
// records: up to 40 hard and 10 soft neighbors, order-1 trends, a
// hundred-node quadrature ceiling and three soft variables per
// integration.
func DefaultOptions() Options {
	return Options{
		Neighborhood: neighborhood.Params{
			MaxSpatial:     10,
			MaxTemporal:    50,
			SpaceTimeRatio: 0.2,
			MaxHard:        40,
			MaxSoft:        10,
		},
		Trend:                neighborhood.TrendSpec{SpatialOrder: 1, TemporalOrder: 1},
		QuadratureNodes:      12,
		MaxQuadratureNodes:   100,
		MaxSoftInIntegration: 3,
		Tolerance:            1e-6,
		MaxIterations:        10,
		PointMassVariance:    1e-12,
		CDFEpsilon:           1e-12,
		Convention:           geometry.Planar,
	}
}

// MomentResult is the posterior description at one target point, tagged
// with the covariance model that produced it.
type MomentResult struct {
	Target models.Point `json:"target"`

	// Mean is the best estimate, Variance the estimation variance and
	// Skewness the standardized third moment of the posterior.
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Skewness float64 `json:"skewness"`

	// NeighborsHard and NeighborsSoft count the observations the
	// estimate was conditioned on, after point-mass folding.
	NeighborsHard int `json:"neighborsHard"`
	NeighborsSoft int `json:"neighborsSoft"`

	// ModelDigest fingerprints the covariance model in effect.
	ModelDigest string `json:"modelDigest"`

	// Cached reports whether the result was served from the cache.
	Cached bool `json:"-"`
}

// BatchItem pairs one target's result or failure with its index, so batch
// runs can skip-and-report instead of aborting wholesale.
type BatchItem struct {
	Index  int
	Result *MomentResult
	Err    error
}

// ProgressCallback reports batch progress: completed and total counts
// plus an optional message.
type ProgressCallback func(completed, total int, message string)

// Estimator runs BME moment estimation against a fixed covariance model
// and observation set. The model and observations are read-only; an
// Estimator is safe for concurrent Estimate calls.
type Estimator struct {
	model covariance.Model
	hard  []models.HardObservation
	soft  []models.SoftObservation
	opts  Options

	cache   Cache
	runName string

	log      *zap.Logger
	progress ProgressCallback

	modelDig string
	dataDig  string

	// onSolve fires once per full moment computation, letting tests
	// verify that cache hits skip the quadrature path.
	onSolve func()
}

// NewEstimator builds an estimator over the given model and observation
// set. The model must validate; inadmissible parameters are rejected here
// rather than mid-batch.
func NewEstimator(model covariance.Model, hard []models.HardObservation,
	soft []models.SoftObservation, opts Options) (*Estimator, error) {

	if err := model.Validate(); err != nil {
		return nil, err
	}
	for i, s := range soft {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "soft observation %d", i)
		}
	}
	if opts.QuadratureNodes <= 0 || opts.MaxIterations <= 0 || opts.Tolerance <= 0 {
		return nil, errors.New("solver options: quadrature nodes, iterations and tolerance must be positive")
	}
	if opts.MaxQuadratureNodes < opts.QuadratureNodes {
		opts.MaxQuadratureNodes = opts.QuadratureNodes
	}
	return &Estimator{
		model:    model,
		hard:     hard,
		soft:     soft,
		opts:     opts,
		log:      zap.NewNop(),
		modelDig: modelDigest(model),
		dataDig:  dataDigest(hard, soft),
	}, nil
}

// SetCache injects a result cache under the given run name. An empty run
// name disables caching even when a cache is present; callers wanting an
// anonymous cached run can pass a generated identifier.
func (e *Estimator) SetCache(c Cache, runName string) {
	e.cache = c
	e.runName = runName
}

// SetLogger replaces the no-op logger.
func (e *Estimator) SetLogger(log *zap.Logger) {
	if log != nil {
		e.log = log
	}
}

// SetProgressCallback installs a batch progress callback.
func (e *Estimator) SetProgressCallback(cb ProgressCallback) {
	e.progress = cb
}

// Model returns the covariance model in effect.
func (e *Estimator) Model() covariance.Model {
	return e.model
}

// Estimate computes the posterior moments at one target point. Failure
// modes are surfaced with the target identified: ErrInsufficientData,
// ErrRankDeficiency, ErrSingularCovariance and ErrNonConvergence all pass
// through errors.Is.
func (e *Estimator) Estimate(target models.Point) (*MomentResult, error) {
	cacheable := e.cache != nil && e.runName != ""
	var key Key
	if cacheable {
		key = Key{
			RunName:     e.runName,
			ModelDigest: e.modelDig,
			InputDigest: inputDigest(e.dataDig, e.opts, target),
		}
		if res, ok, err := e.cache.Get(key); err != nil {
			return nil, errors.Wrapf(err, "target (%v, t=%v)", target.Space, target.Time)
		} else if ok {
			hit := *res
			hit.Cached = true
			return &hit, nil
		}
	}

	res, err := e.solve(target)
	if err != nil {
		return nil, errors.Wrapf(err, "target (%v, t=%v)", target.Space, target.Time)
	}
	if cacheable {
		if err := e.cache.Put(key, res); err != nil {
			return nil, errors.Wrapf(err, "target (%v, t=%v)", target.Space, target.Time)
		}
	}
	return res, nil
}

// solve runs the full neighborhood-selection and moment-integration
// pipeline for one target.
func (e *Estimator) solve(target models.Point) (*MomentResult, error) {
	if e.onSolve != nil {
		e.onSolve()
	}

	nb, err := neighborhood.Select(target, e.hard, e.soft, e.opts.Neighborhood, e.opts.Convention)
	if err != nil {
		return nil, err
	}

	// Point-mass soft data joins the hard set before anything else, so
	// degenerate soft observations flow through the exact same path as
	// hard ones.
	hard := nb.Hard
	var soft []models.SoftObservation
	for _, s := range nb.Soft {
		if v, ok := s.PointMass(e.opts.PointMassVariance); ok {
			hard = append(hard, models.HardObservation{Point: s.Point, Value: v})
			continue
		}
		soft = append(soft, s)
	}
	if limit := e.opts.MaxSoftInIntegration; limit > 0 && len(soft) > limit {
		soft = soft[:limit]
	}

	// A target coincident with a hard observation is that observation:
	// exact value, zero variance.
	for _, h := range hard {
		ds := geometry.Distance(e.opts.Convention, target.Space, h.Space)
		dt := math.Abs(h.Time - target.Time)
		if ds+e.opts.Neighborhood.SpaceTimeRatio*dt < coincidentTol {
			return &MomentResult{
				Target:        target,
				Mean:          h.Value,
				Variance:      0,
				NeighborsHard: len(hard),
				NeighborsSoft: len(soft),
				ModelDigest:   e.modelDig,
			}, nil
		}
	}

	points := make([]models.Point, 0, len(hard)+len(soft))
	values := make([]float64, 0, len(hard)+len(soft))
	for _, h := range hard {
		points = append(points, h.Point)
		values = append(values, h.Value)
	}
	for _, s := range soft {
		points = append(points, s.Point)
		mean, _ := s.Moments()
		values = append(values, mean)
	}

	// Trend removal: fit the design-matrix basis over hard values and
	// soft means, work on residuals, restore at the end.
	x, targetRow, err := neighborhood.DesignMatrix(points, target, e.opts.Trend)
	if err != nil {
		return nil, err
	}
	beta, err := neighborhood.FitTrend(x, values)
	if err != nil {
		return nil, err
	}

	resid := make([]float64, len(hard))
	for i := range hard {
		resid[i] = hard[i].Value - neighborhood.TrendAt(x.RawRowView(i), beta)
	}
	softTrend := make([]float64, len(soft))
	for j := range soft {
		softTrend[j] = neighborhood.TrendAt(x.RawRowView(len(hard)+j), beta)
	}
	trend0 := neighborhood.TrendAt(targetRow, beta)

	p := problem{
		nh:        len(hard),
		points:    points,
		target:    target,
		resid:     resid,
		soft:      soft,
		softTrend: softTrend,
	}
	mean, variance, skew, err := e.integrate(p)
	if err != nil {
		return nil, err
	}

	return &MomentResult{
		Target:        target,
		Mean:          trend0 + mean,
		Variance:      variance,
		Skewness:      skew,
		NeighborsHard: len(hard),
		NeighborsSoft: len(soft),
		ModelDigest:   e.modelDig,
	}, nil
}

// EstimateBatch runs Estimate over a batch of target points with a worker
// pool. Workers share only the read-only model and observations; results
// land in their target's slot, so output order is deterministic. A
// non-positive worker count uses all CPUs.
func (e *Estimator) EstimateBatch(targets []models.Point, workers int) []BatchItem {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(targets) {
		workers = len(targets)
	}
	items := make([]BatchItem, len(targets))
	if len(targets) == 0 {
		return items
	}

	var wg sync.WaitGroup
	var progressMu sync.Mutex
	completed := 0

	perWorker := (len(targets) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(targets) {
			end = len(targets)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				res, err := e.Estimate(targets[i])
				items[i] = BatchItem{Index: i, Result: res, Err: err}
				if err != nil {
					e.log.Warn("estimation failed",
						zap.Int("target", i),
						zap.Float64s("space", targets[i].Space),
						zap.Float64("time", targets[i].Time),
						zap.Error(err))
				}
				if e.progress != nil {
					progressMu.Lock()
					completed++
					e.progress(completed, len(targets), "")
					progressMu.Unlock()
				}
			}
		}(start, end)
	}
	wg.Wait()
	return items
}
