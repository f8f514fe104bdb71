package invert

import (
	"math"

	"selectinf/domain/core"
)

// PivotFunc evaluates the selective pivot at a hypothesized parameter value.
// It must be monotone in the parameter; the truncated-normal pivot is
// non-increasing in the mean.
type PivotFunc func(theta float64) (float64, error)

// Alternative selects the tail of the p-value test.
type Alternative string

const (
	AltTwoSided Alternative = "twosided"
	AltGreater  Alternative = "greater"
	AltLess     Alternative = "less"
)

// Inverter turns a monotone pivot into confidence limits by bisection, with
// bracket expansion when the initial window does not straddle the target.
type Inverter struct {
	// MaxDoublings bounds the bracket expansion; exceeding it yields
	// ErrRootBracket and the caller reports an unbounded interval.
	MaxDoublings int
	// MaxIter bounds the bisection refinement.
	MaxIter int
	// Tol is the absolute parameter tolerance at which bisection stops,
	// scaled by the initial bracket width.
	Tol float64
}

// NewInverter returns an inverter with the default budgets.
func NewInverter() *Inverter {
	return &Inverter{MaxDoublings: 60, MaxIter: 200, Tol: 1e-8}
}

// Invert finds the equal-tailed confidence interval at the given coverage:
// the parameter values where the pivot equals 1-alpha/2 (lower limit) and
// alpha/2 (upper limit). center and scale seed the bracket, typically the
// observed statistic and its standard deviation.
func (inv *Inverter) Invert(coverage float64, center, scale float64, fn PivotFunc) (float64, float64, error) {
	alpha := 1 - coverage
	lower, err := inv.solve(1-alpha/2, center, scale, fn)
	if err != nil {
		return 0, 0, err
	}
	upper, err := inv.solve(alpha/2, center, scale, fn)
	if err != nil {
		return 0, 0, err
	}
	if lower > upper {
		lower, upper = upper, lower
	}
	return lower, upper, nil
}

// PValue evaluates the two-sided (or one-sided) test of the null parameter
// value zero.
func PValue(fn PivotFunc, alt Alternative) (float64, error) {
	p, err := fn(0)
	if err != nil {
		return 0, err
	}
	switch alt {
	case AltGreater:
		return 1 - p, nil
	case AltLess:
		return p, nil
	default:
		return 2 * math.Min(p, 1-p), nil
	}
}

// solve locates theta with fn(theta) == target by bisection on the monotone
// pivot. The bracket starts at center +/- scale and doubles outward until the
// target is straddled.
func (inv *Inverter) solve(target, center, scale float64, fn PivotFunc) (float64, error) {
	if scale <= 0 {
		scale = 1
	}
	lo, hi := center-scale, center+scale
	plo, err := fn(lo)
	if err != nil {
		return 0, err
	}
	phi, err := fn(hi)
	if err != nil {
		return 0, err
	}

	// the truncated-normal pivot decreases in theta; flip the comparison if
	// an increasing pivot is supplied
	decreasing := plo >= phi

	straddles := func(a, b float64) bool {
		return math.Min(a, b) <= target && target <= math.Max(a, b)
	}

	d := 0
	for ; d < inv.MaxDoublings && !straddles(plo, phi); d++ {
		width := hi - lo
		wantLower := (decreasing && target > math.Max(plo, phi)) ||
			(!decreasing && target < math.Min(plo, phi))
		if wantLower {
			lo -= width
			if plo, err = fn(lo); err != nil {
				return 0, err
			}
		} else {
			hi += width
			if phi, err = fn(hi); err != nil {
				return 0, err
			}
		}
	}
	if !straddles(plo, phi) {
		return 0, core.NewBracketError(target, inv.MaxDoublings)
	}

	tol := inv.Tol * math.Max(hi-lo, scale)
	for i := 0; i < inv.MaxIter && hi-lo > tol; i++ {
		mid := 0.5 * (lo + hi)
		pmid, err := fn(mid)
		if err != nil {
			return 0, err
		}
		if (decreasing && pmid > target) || (!decreasing && pmid < target) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}
