package constraint

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
)

// DefaultTol is the relative tolerance used when deciding whether an
// observation satisfies A y <= b.
const DefaultTol = 1e-4

// Interval is a (possibly half-open) slice of the real line.
type Interval struct {
	Lower float64
	Upper float64
}

// Width returns Upper - Lower; +Inf for half-open intervals.
func (iv Interval) Width() float64 { return iv.Upper - iv.Lower }

// AffineConstraints encodes a selection event as the polyhedron
// {y : A y <= b} together with the noise covariance of y. It is immutable
// once built and safe for concurrent readers.
type AffineConstraints struct {
	a     *mat.Dense
	b     []float64
	noise *inference.NoiseModel
}

// New validates dimensions and builds the polyhedron. It does not check the
// observation; callers do that explicitly via CheckObservation so that
// infeasibility is reported per coefficient, not swallowed at build time.
func New(a *mat.Dense, b []float64, noise *inference.NoiseModel) (*AffineConstraints, error) {
	q, n := a.Dims()
	if len(b) != q {
		return nil, core.NewDimensionError("offset b", len(b), q)
	}
	if noise != nil && noise.Dim() != n {
		return nil, core.NewDimensionError("noise covariance", noise.Dim(), n)
	}
	return &AffineConstraints{a: a, b: b, noise: noise}, nil
}

// Dim returns the outcome-space dimension n.
func (c *AffineConstraints) Dim() int {
	_, n := c.a.Dims()
	return n
}

// Rows returns the number of inequality rows.
func (c *AffineConstraints) Rows() int {
	q, _ := c.a.Dims()
	return q
}

// Linear returns the constraint matrix A. Callers must not mutate it.
func (c *AffineConstraints) Linear() *mat.Dense { return c.a }

// Offset returns the offset vector b. Callers must not mutate it.
func (c *AffineConstraints) Offset() []float64 { return c.b }

// Noise returns the noise model attached to the polyhedron.
func (c *AffineConstraints) Noise() *inference.NoiseModel { return c.noise }

// Slack computes A y - b. Nonpositive entries mean the row is satisfied.
func (c *AffineConstraints) Slack(y []float64) []float64 {
	q, n := c.a.Dims()
	out := make([]float64, q)
	for i := 0; i < q; i++ {
		var dot float64
		for j := 0; j < n; j++ {
			dot += c.a.At(i, j) * y[j]
		}
		out[i] = dot - c.b[i]
	}
	return out
}

// Contains checks membership with a relative tolerance: every slack must be
// below tol times the largest absolute slack.
func (c *AffineConstraints) Contains(y []float64, tol float64) bool {
	slack := c.Slack(y)
	maxAbs := 0.0
	for _, s := range slack {
		if math.Abs(s) > maxAbs {
			maxAbs = math.Abs(s)
		}
	}
	thresh := tol * math.Max(maxAbs, 1)
	for _, s := range slack {
		if s >= thresh {
			return false
		}
	}
	return true
}

// CheckObservation enforces the self-consistency precondition: the observed
// response must lie inside its own selection event. A violation beyond
// tolerance signals an adapter bug or numerical drift.
func (c *AffineConstraints) CheckObservation(y []float64, tol float64) error {
	if len(y) != c.Dim() {
		return core.NewDimensionError("observation", len(y), c.Dim())
	}
	slack := c.Slack(y)
	maxAbs := 0.0
	for _, s := range slack {
		if math.Abs(s) > maxAbs {
			maxAbs = math.Abs(s)
		}
	}
	thresh := tol * math.Max(maxAbs, 1)
	for i, s := range slack {
		if s >= thresh {
			return core.NewInfeasibleError(i, s)
		}
	}
	return nil
}

// TruncationInterval computes the slice of the polyhedron along eta through
// the observed y: the interval of values v such that replacing eta'y by v
// (moving y along Sigma*eta) keeps y inside the polyhedron. Returns the
// interval in the eta'y scale, the observed eta'y, and sigma = sqrt(eta'
// Sigma eta). Exact linear algebra, one pass over the rows.
func (c *AffineConstraints) TruncationInterval(eta inference.Contrast, y []float64) (Interval, float64, float64, error) {
	q, n := c.a.Dims()
	if len(eta) != n {
		return Interval{}, 0, 0, core.NewDimensionError("contrast", len(eta), n)
	}
	if len(y) != n {
		return Interval{}, 0, 0, core.NewDimensionError("observation", len(y), n)
	}

	sw := c.noise.Mul(eta)
	var sigma2 float64
	for i := range eta {
		sigma2 += eta[i] * sw[i]
	}
	if sigma2 <= 0 {
		return Interval{}, 0, 0, core.NewDegenerateError(0, 0)
	}
	sigma := math.Sqrt(sigma2)

	var obs float64
	for i := range eta {
		obs += eta[i] * y[i]
	}

	// alpha_i = A_i Sigma eta / sigma^2; rows with alpha near zero are
	// parallel to the slice and contribute no bound.
	slack := c.Slack(y)
	alpha := make([]float64, q)
	maxAlpha := 0.0
	for i := 0; i < q; i++ {
		var dot float64
		for j := 0; j < n; j++ {
			dot += c.a.At(i, j) * sw[j]
		}
		alpha[i] = dot / sigma2
		if math.Abs(alpha[i]) > maxAlpha {
			maxAlpha = math.Abs(alpha[i])
		}
	}

	lower := math.Inf(-1)
	upper := math.Inf(1)
	cut := DefaultTol * maxAlpha
	for i := 0; i < q; i++ {
		if math.Abs(alpha[i]) <= cut {
			continue
		}
		rhs := obs - slack[i]/alpha[i]
		if alpha[i] > 0 {
			if rhs < upper {
				upper = rhs
			}
		} else {
			if rhs > lower {
				lower = rhs
			}
		}
	}
	return Interval{Lower: lower, Upper: upper}, obs, sigma, nil
}

// Stack intersects polyhedra by concatenating rows, preserving row order.
// Selection order matters for stepwise procedures, so rows are never
// re-sorted. All inputs must share dimension; the noise model of the first
// constraint is carried over.
func Stack(cons ...*AffineConstraints) (*AffineConstraints, error) {
	if len(cons) == 0 {
		return nil, core.NewDimensionError("constraints", 0, 1)
	}
	n := cons[0].Dim()
	total := 0
	for _, c := range cons {
		if c.Dim() != n {
			return nil, core.NewDimensionError("stacked constraint", c.Dim(), n)
		}
		total += c.Rows()
	}
	a := mat.NewDense(total, n, nil)
	b := make([]float64, 0, total)
	row := 0
	for _, c := range cons {
		q, _ := c.a.Dims()
		for i := 0; i < q; i++ {
			for j := 0; j < n; j++ {
				a.Set(row, j, c.a.At(i, j))
			}
			row++
		}
		b = append(b, c.b...)
	}
	return New(a, b, cons[0].noise)
}
