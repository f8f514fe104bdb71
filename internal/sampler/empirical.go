package sampler

import (
	"math"

	"github.com/montanaflynn/stats"

	"selectinf/domain/inference"
)

// EmpiricalPivot is the Monte Carlo estimate of the selective pivot: the
// fraction of conditional draws whose statistic falls at or below the
// observed value, with its binomial standard error.
type EmpiricalPivot struct {
	P      float64
	StdErr float64
	N      int
	Diag   Diagnostics
}

// Diagnostics summarizes the drawn statistics for sanity checks and
// reporting.
type Diagnostics struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
}

// Pivot computes the empirical pivot of observed = eta'y against the drawn
// conditional statistics.
func Pivot(draws [][]float64, eta inference.Contrast, observed float64) EmpiricalPivot {
	n := len(draws)
	statistics := make([]float64, n)
	below := 0
	for i, y := range draws {
		var s float64
		for j := range eta {
			s += eta[j] * y[j]
		}
		statistics[i] = s
		if s <= observed {
			below++
		}
	}
	p := float64(below) / float64(n)
	se := math.Sqrt(p * (1 - p) / float64(n))

	mean, _ := stats.Mean(statistics)
	sd, _ := stats.StandardDeviation(statistics)
	minVal, _ := stats.Min(statistics)
	maxVal, _ := stats.Max(statistics)
	median, _ := stats.Median(statistics)

	return EmpiricalPivot{
		P:      p,
		StdErr: se,
		N:      n,
		Diag: Diagnostics{
			Mean:   mean,
			StdDev: sd,
			Min:    minVal,
			Max:    maxVal,
			Median: median,
		},
	}
}
