package neighborhood

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"envbme/internal/models"
)

// ErrRankDeficiency reports that the requested trend order produces a
// design matrix whose columns are not full rank for the neighborhood at
// hand. This is a common boundary condition when the neighborhood is
// smaller than the trend's degrees of freedom.
var ErrRankDeficiency = errors.New("design matrix rank deficient")

// TrendSpec configures the trend basis removed before residual covariance
// estimation.
type TrendSpec struct {
	// SpatialOrder is the maximum total degree of spatial monomials.
	SpatialOrder int `yaml:"spatialOrder"`

	// TemporalOrder is the maximum temporal polynomial degree, or the
	// number of Fourier harmonics when TemporalPeriod is set.
	TemporalOrder int `yaml:"temporalOrder"`

	// TemporalPeriod switches the temporal basis from polynomial to
	// Fourier (sine and cosine pairs of the given fundamental period)
	// when positive.
	TemporalPeriod float64 `yaml:"temporalPeriod"`
}

// DesignMatrix evaluates the trend basis at every neighborhood point and
// at the target. The returned matrix has one row per point; targetRow is
// the same basis evaluated at the target location. Columns are a constant,
// spatial monomials up to the spec's total degree, and temporal
// polynomial or Fourier terms.
//
// The matrix is rejected with ErrRankDeficiency when its columns are not
// full rank for the given neighborhood size, determined by an SVD rank
// test.
func DesignMatrix(points []models.Point, target models.Point, spec TrendSpec) (*mat.Dense, []float64, error) {
	if len(points) == 0 {
		return nil, nil, errors.Wrap(ErrInsufficientData, "design matrix over empty neighborhood")
	}
	dims := len(target.Space)
	exps := spatialExponents(dims, spec.SpatialOrder)
	cols := 1 + len(exps) + temporalTerms(spec)

	x := mat.NewDense(len(points), cols, nil)
	for i, p := range points {
		x.SetRow(i, basisRow(p, exps, spec, cols))
	}
	targetRow := basisRow(target, exps, spec, cols)

	if len(points) < cols {
		return nil, nil, errors.Wrapf(ErrRankDeficiency,
			"%d trend terms but only %d neighborhood points", cols, len(points))
	}
	if r := matrixRank(x); r < cols {
		return nil, nil, errors.Wrapf(ErrRankDeficiency,
			"design matrix rank %d below %d columns", r, cols)
	}
	return x, targetRow, nil
}

// FitTrend solves the least-squares trend coefficients for the given
// design matrix and values, returning the coefficient vector. Rank
// deficiency is caught by DesignMatrix; a failed solve here still maps to
// the same condition.
func FitTrend(x *mat.Dense, values []float64) ([]float64, error) {
	rows, cols := x.Dims()
	if len(values) != rows {
		return nil, errors.Newf("trend fit: %d rows but %d values", rows, len(values))
	}
	var qr mat.QR
	qr.Factorize(x)
	b := mat.NewVecDense(rows, append([]float64(nil), values...))
	sol := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(sol, false, b); err != nil {
		return nil, errors.Wrap(ErrRankDeficiency, err.Error())
	}
	return sol.RawVector().Data, nil
}

// TrendAt evaluates a fitted trend at a basis row.
func TrendAt(row, beta []float64) float64 {
	sum := 0.0
	for i, b := range beta {
		sum += row[i] * b
	}
	return sum
}

func basisRow(p models.Point, exps [][]int, spec TrendSpec, cols int) []float64 {
	row := make([]float64, 0, cols)
	row = append(row, 1)
	for _, e := range exps {
		term := 1.0
		for d, k := range e {
			for j := 0; j < k; j++ {
				term *= p.Space[d]
			}
		}
		row = append(row, term)
	}
	if spec.TemporalPeriod > 0 {
		for k := 1; k <= spec.TemporalOrder; k++ {
			w := 2 * math.Pi * float64(k) * p.Time / spec.TemporalPeriod
			row = append(row, math.Sin(w), math.Cos(w))
		}
	} else {
		t := 1.0
		for k := 1; k <= spec.TemporalOrder; k++ {
			t *= p.Time
			row = append(row, t)
		}
	}
	return row
}

func temporalTerms(spec TrendSpec) int {
	if spec.TemporalPeriod > 0 {
		return 2 * spec.TemporalOrder
	}
	return spec.TemporalOrder
}

// spatialExponents enumerates all monomial exponent vectors over dims
// dimensions with total degree 1 through order, in a fixed deterministic
// order.
func spatialExponents(dims, order int) [][]int {
	var out [][]int
	for deg := 1; deg <= order; deg++ {
		out = append(out, exponentsOfDegree(dims, deg)...)
	}
	return out
}

func exponentsOfDegree(dims, deg int) [][]int {
	if dims == 0 {
		if deg == 0 {
			return [][]int{{}}
		}
		return nil
	}
	var out [][]int
	for k := deg; k >= 0; k-- {
		for _, rest := range exponentsOfDegree(dims-1, deg-k) {
			e := append([]int{k}, rest...)
			out = append(out, e)
		}
	}
	return out
}

// matrixRank counts singular values above a relative tolerance, the
// usual numerical rank of the design matrix.
func matrixRank(x *mat.Dense) int {
	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDNone); !ok {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	rows, cols := x.Dims()
	largest := values[0]
	tol := float64(max(rows, cols)) * largest * 1e-12
	r := 0
	for _, v := range values {
		if v > tol {
			r++
		}
	}
	return r
}
