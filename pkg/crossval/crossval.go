// Package crossval certifies the moment solver by leave-one-out
// cross-validation: every hard observation is withheld in turn and
// re-estimated from its neighbors through the exact estimation pipeline,
// with no shortcut approximation.
package crossval

import (
	"math"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"envbme/internal/models"
	"envbme/pkg/covariance"
	"envbme/pkg/solver"
)

// PointReport records one withheld observation's re-estimation.
type PointReport struct {
	// Index is the observation's position in the input hard set.
	Index int `json:"index"`

	Target models.Point `json:"target"`

	// Predicted and Actual are the re-estimated and withheld values;
	// Residual is Predicted minus Actual.
	Predicted float64 `json:"predicted"`
	Actual    float64 `json:"actual"`
	Residual  float64 `json:"residual"`

	// Variance is the solver's estimation variance at the point.
	Variance float64 `json:"variance"`

	// Err is set when re-estimation failed for this point; the batch
	// continues past it.
	Err error `json:"-"`
}

// Report aggregates a full leave-one-out run. Points are ordered by input
// index, so two runs over identical inputs produce bit-identical reports.
type Report struct {
	Points []PointReport `json:"points"`

	// Bias is the mean residual and RMSE the root mean square error,
	// both over the successfully re-estimated points.
	Bias float64 `json:"bias"`
	RMSE float64 `json:"rmse"`

	// Evaluated and Failed count re-estimations by outcome.
	Evaluated int `json:"evaluated"`
	Failed    int `json:"failed"`
}

// Options configures a cross-validation run.
type Options struct {
	// Solver is the exact option set a production estimation call would
	// use; validation certifies the solver's real operating behavior.
	Solver solver.Options

	// Workers sizes the worker pool; non-positive uses all CPUs.
	Workers int
}

// Perform runs leave-one-out cross-validation of the moment solver over
// the hard observations. Each point is withheld, its location becomes the
// target, and the full neighborhood-selection and moment-solving pipeline
// runs against the reduced hard set plus the complete soft set. Per-point
// failures are recorded alongside successes rather than aborting the run.
func Perform(model covariance.Model, hard []models.HardObservation,
	soft []models.SoftObservation, opts Options, log *zap.Logger) (*Report, error) {

	if len(hard) < 2 {
		return nil, errors.Newf("cross-validation needs at least 2 hard observations, got %d", len(hard))
	}
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(hard) {
		workers = len(hard)
	}

	report := &Report{Points: make([]PointReport, len(hard))}

	var wg sync.WaitGroup
	perWorker := (len(hard) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(hard) {
			end = len(hard)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				report.Points[i] = validateOne(model, hard, soft, opts.Solver, i)
				if err := report.Points[i].Err; err != nil {
					log.Warn("cross-validation point failed",
						zap.Int("index", i), zap.Error(err))
				}
			}
		}(start, end)
	}
	wg.Wait()

	residuals := make([]float64, 0, len(report.Points))
	squares := make([]float64, 0, len(report.Points))
	for i := range report.Points {
		if report.Points[i].Err != nil {
			report.Failed++
			continue
		}
		report.Evaluated++
		r := report.Points[i].Residual
		residuals = append(residuals, r)
		squares = append(squares, r*r)
	}
	if report.Evaluated > 0 {
		report.Bias = stat.Mean(residuals, nil)
		report.RMSE = math.Sqrt(stat.Mean(squares, nil))
	}
	return report, nil
}

// validateOne withholds hard[i] and re-estimates it from the rest.
func validateOne(model covariance.Model, hard []models.HardObservation,
	soft []models.SoftObservation, opts solver.Options, i int) PointReport {

	pr := PointReport{Index: i, Target: hard[i].Point, Actual: hard[i].Value}

	reduced := make([]models.HardObservation, 0, len(hard)-1)
	reduced = append(reduced, hard[:i]...)
	reduced = append(reduced, hard[i+1:]...)

	est, err := solver.NewEstimator(model, reduced, soft, opts)
	if err != nil {
		pr.Err = err
		return pr
	}
	res, err := est.Estimate(hard[i].Point)
	if err != nil {
		pr.Err = err
		return pr
	}
	pr.Predicted = res.Mean
	pr.Variance = res.Variance
	pr.Residual = res.Mean - hard[i].Value
	return pr
}
