package pivot

import (
	"math"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
)

// Engine computes the selective pivot: the truncated-Gaussian CDF of the
// observed statistic eta'y within the slice of the selection polyhedron
// along eta.
type Engine struct {
	// Tol is the relative tolerance for the observation feasibility check.
	Tol float64
	// DegenerateFloor is the minimum truncation width, in sigma units, below
	// which the conditional distribution is treated as a point mass.
	DegenerateFloor float64
}

// NewEngine returns an engine with the default tolerances.
func NewEngine() *Engine {
	return &Engine{
		Tol:             constraint.DefaultTol,
		DegenerateFloor: 1e-8,
	}
}

// Slice exposes the truncation interval, observed statistic and scale for a
// contrast, with the degeneracy check applied.
func (e *Engine) Slice(con *constraint.AffineConstraints, eta inference.Contrast, y []float64) (constraint.Interval, float64, float64, error) {
	iv, obs, sigma, err := con.TruncationInterval(eta, y)
	if err != nil {
		return iv, obs, sigma, err
	}
	if iv.Width() < e.DegenerateFloor*sigma {
		return iv, obs, sigma, core.NewDegenerateError(iv.Lower, iv.Upper)
	}
	return iv, obs, sigma, nil
}

// Pivot evaluates the truncated-normal CDF of the observed eta'y under the
// hypothesis that the mean of eta'y equals theta. Monotone non-increasing in
// theta for fixed data, which is what the interval inverter relies on.
func (e *Engine) Pivot(con *constraint.AffineConstraints, eta inference.Contrast, y []float64, theta float64) (float64, error) {
	iv, obs, sigma, err := e.Slice(con, eta, y)
	if err != nil {
		return 0, err
	}
	p := TruncNormCDF(obs, iv.Lower, iv.Upper, theta, sigma)
	if math.IsNaN(p) {
		return 0, core.NewDegenerateError(iv.Lower, iv.Upper)
	}
	return p, nil
}

// PivotAt evaluates the pivot from a precomputed slice, avoiding the row
// sweep when the inverter probes many theta values for one contrast.
func (e *Engine) PivotAt(iv constraint.Interval, obs, sigma, theta float64) (float64, error) {
	p := TruncNormCDF(obs, iv.Lower, iv.Upper, theta, sigma)
	if math.IsNaN(p) {
		return 0, core.NewDegenerateError(iv.Lower, iv.Upper)
	}
	return p, nil
}

// TiltedMLE finds theta such that the mean of N(theta, sigma^2) truncated to
// the slice equals the observed statistic: the exponential-family point
// estimate of eta'mu. Bisection on a monotone map; bracket grows from the
// observed value.
func (e *Engine) TiltedMLE(con *constraint.AffineConstraints, eta inference.Contrast, y []float64) (float64, error) {
	iv, obs, sigma, err := e.Slice(con, eta, y)
	if err != nil {
		return 0, err
	}

	mean := func(theta float64) float64 {
		a := (iv.Lower - theta) / sigma
		b := (iv.Upper - theta) / sigma
		return theta + sigma*TruncStdNormMean(a, b)
	}

	lo, hi := obs-sigma, obs+sigma
	for i := 0; i < 64 && mean(lo) > obs; i++ {
		lo -= 2 * (obs - lo + sigma)
	}
	for i := 0; i < 64 && mean(hi) < obs; i++ {
		hi += 2 * (hi - obs + sigma)
	}
	if mean(lo) > obs || mean(hi) < obs {
		return 0, core.NewBracketError(obs, 64)
	}
	for i := 0; i < 200 && hi-lo > 1e-10*sigma; i++ {
		mid := 0.5 * (lo + hi)
		if mean(mid) < obs {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}
