package sampler

import (
	"math"

	"selectinf/domain/inference"
)

// Statistics projects conditional draws onto the contrast.
func Statistics(draws [][]float64, eta inference.Contrast) []float64 {
	out := make([]float64, len(draws))
	for i, y := range draws {
		var s float64
		for j := range eta {
			s += eta[j] * y[j]
		}
		out[i] = s
	}
	return out
}

// TiltedPivot builds the empirical pivot as a function of the hypothesized
// mean theta of eta'y. Draws are taken under the reference (theta = 0)
// conditional law; the exponential-family tilt reweights them by
// exp(theta * t / sigma2), so one sample serves every theta the inverter
// probes. Weights are normalized in log space to dodge overflow.
func TiltedPivot(statistics []float64, sigma2 float64, observed float64) func(theta float64) (float64, error) {
	return func(theta float64) (float64, error) {
		scale := theta / sigma2
		maxLog := math.Inf(-1)
		for _, t := range statistics {
			if l := scale * t; l > maxLog {
				maxLog = l
			}
		}
		var num, den float64
		for _, t := range statistics {
			w := math.Exp(scale*t - maxLog)
			den += w
			if t <= observed {
				num += w
			}
		}
		if den == 0 {
			return 0, nil
		}
		return num / den, nil
	}
}
