package pivot

import (
	"math"
)

// All tail mass in this file is handled in log space. Naive CDF subtraction
// loses every significant digit once the truncation interval sits a few
// standard deviations into a tail; the selective pivot lives exactly there,
// so the log-space path is the primary one, not a fallback.

const (
	ln2        = 0.6931471805599453
	logRoot2Pi = 0.9189385332046727 // log(sqrt(2*pi))

	// beyond this point erfc underflows and the asymptotic expansion of the
	// Gaussian survival function takes over
	erfcLimit = 20.0
)

// logNormSF returns log(1 - Phi(x)) for a standard normal.
func logNormSF(x float64) float64 {
	if math.IsInf(x, 1) {
		return math.Inf(-1)
	}
	if math.IsInf(x, -1) {
		return 0
	}
	if x <= erfcLimit {
		return math.Log(0.5 * math.Erfc(x/math.Sqrt2))
	}
	// Upper-tail asymptotic: SF(x) ~ phi(x)/x * (1 - 1/x^2 + 3/x^4 - 15/x^6)
	x2 := x * x
	series := math.Log1p(-1/x2 + 3/(x2*x2) - 15/(x2*x2*x2))
	return -0.5*x2 - math.Log(x) - logRoot2Pi + series
}

// logNormCDF returns log(Phi(x)) for a standard normal.
func logNormCDF(x float64) float64 {
	return logNormSF(-x)
}

// logPhi returns log of the standard normal density.
func logPhi(x float64) float64 {
	return -0.5*x*x - logRoot2Pi
}

// log1mexp computes log(1 - exp(d)) for d <= 0 without cancellation.
func log1mexp(d float64) float64 {
	if d >= 0 {
		return math.Inf(-1)
	}
	if d < -ln2 {
		return math.Log1p(-math.Exp(d))
	}
	return math.Log(-math.Expm1(d))
}

// logDiffExp computes log(exp(la) - exp(lb)) assuming la >= lb.
func logDiffExp(la, lb float64) float64 {
	if math.IsInf(la, -1) {
		return math.Inf(-1)
	}
	if math.IsInf(lb, -1) {
		return la
	}
	return la + log1mexp(lb-la)
}

// TruncStdNormCDF evaluates the CDF at z of a standard normal truncated to
// [a, b]. Stable for intervals arbitrarily far in either tail.
func TruncStdNormCDF(z, a, b float64) float64 {
	if z <= a {
		return 0
	}
	if z >= b {
		return 1
	}

	var num, den float64
	switch {
	case a >= 0:
		// interval in the upper tail: work with survival functions
		sfA := logNormSF(a)
		num = logDiffExp(sfA, logNormSF(z))
		den = logDiffExp(sfA, logNormSF(b))
	case b <= 0:
		// interval in the lower tail: work with CDFs
		cdfA := logNormCDF(a)
		num = logDiffExp(logNormCDF(z), cdfA)
		den = logDiffExp(logNormCDF(b), cdfA)
	default:
		// interval straddles zero; the denominator carries central mass and
		// direct evaluation is safe, but keep the tails in log space
		if z <= 0 {
			cdfA := logNormCDF(a)
			num = logDiffExp(logNormCDF(z), cdfA)
			den = logDiffExp(logNormCDF(b), cdfA)
		} else {
			sfB := logNormSF(b)
			// F = 1 - (SF(z)-SF(b))/(SF(a)-SF(b)) computed via complement
			comp := logDiffExp(logNormSF(z), sfB)
			total := logDiffExp(logNormSF(a), sfB)
			p := 1 - math.Exp(comp-total)
			return clamp01(p)
		}
	}
	if math.IsInf(den, -1) {
		// zero truncated mass: the distribution is a point mass and any CDF
		// value is meaningless; callers detect this via the interval width
		return math.NaN()
	}
	return clamp01(math.Exp(num - den))
}

// TruncNormCDF evaluates the CDF at x of N(mean, sigma^2) truncated to
// [lower, upper].
func TruncNormCDF(x, lower, upper, mean, sigma float64) float64 {
	return TruncStdNormCDF((x-mean)/sigma, (lower-mean)/sigma, (upper-mean)/sigma)
}

// TruncStdNormMean returns the mean of a standard normal truncated to [a, b].
func TruncStdNormMean(a, b float64) float64 {
	// E = (phi(a) - phi(b)) / (Phi(b) - Phi(a)), assembled from logs with
	// explicit sign handling
	var logZ float64
	switch {
	case a >= 0:
		logZ = logDiffExp(logNormSF(a), logNormSF(b))
	case b <= 0:
		logZ = logDiffExp(logNormCDF(b), logNormCDF(a))
	default:
		logZ = math.Log(normCDFDirect(b) - normCDFDirect(a))
	}
	la := logPhi(a)
	lb := logPhi(b)
	if math.IsInf(a, -1) {
		la = math.Inf(-1)
	}
	if math.IsInf(b, 1) {
		lb = math.Inf(-1)
	}
	if la >= lb {
		return math.Exp(logDiffExp(la, lb) - logZ)
	}
	return -math.Exp(logDiffExp(lb, la) - logZ)
}

func normCDFDirect(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
