package solver

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/ports"
)

// CoordinateDescent is the default lasso solver: cyclic coordinate descent on
//
//	(1/2) ||y - X b||^2 + lambda ||b||_1
//
// It reports the active set in order of first activation, the coefficient
// signs, and the subgradient at the solution, which is everything the
// polyhedral adapter needs.
type CoordinateDescent struct {
	MaxIter int
	Tol     float64
}

// NewCoordinateDescent returns a solver with the default iteration budget.
func NewCoordinateDescent() *CoordinateDescent {
	return &CoordinateDescent{MaxIter: 2000, Tol: 1e-10}
}

// Fit implements ports.SolverPort.
func (s *CoordinateDescent) Fit(ctx context.Context, X *mat.Dense, y []float64, penalty ports.PenaltyParams) (*ports.FitResult, error) {
	n, p := X.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	if penalty.Lambda <= 0 {
		return nil, fmt.Errorf("coordinate descent needs a positive penalty, got %g", penalty.Lambda)
	}
	lambda := penalty.Lambda

	cols := make([][]float64, p)
	norms := make([]float64, p)
	for j := 0; j < p; j++ {
		c := make([]float64, n)
		var nn float64
		for i := 0; i < n; i++ {
			c[i] = X.At(i, j)
			nn += c[i] * c[i]
		}
		cols[j] = c
		norms[j] = nn
	}

	beta := make([]float64, p)
	resid := make([]float64, n)
	copy(resid, y)

	activationOrder := make([]int, 0, p)
	activated := make(map[int]bool, p)

	for iter := 0; iter < s.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		maxDelta := 0.0
		for j := 0; j < p; j++ {
			if norms[j] == 0 {
				continue
			}
			var rho float64
			for i := 0; i < n; i++ {
				rho += cols[j][i] * resid[i]
			}
			rho += norms[j] * beta[j]

			w := lambda
			if penalty.Weights != nil {
				w = lambda * penalty.Weights[j]
			}
			newBeta := softThreshold(rho, w) / norms[j]
			delta := newBeta - beta[j]
			if delta != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= delta * cols[j][i]
				}
				beta[j] = newBeta
				if newBeta != 0 && !activated[j] {
					activated[j] = true
					activationOrder = append(activationOrder, j)
				}
			}
			if math.Abs(delta) > maxDelta {
				maxDelta = math.Abs(delta)
			}
		}
		if maxDelta < s.Tol {
			break
		}
	}

	active := make([]int, 0, len(activationOrder))
	signs := make([]float64, 0, len(activationOrder))
	for _, j := range activationOrder {
		if beta[j] != 0 {
			active = append(active, j)
			signs = append(signs, math.Copysign(1, beta[j]))
		}
	}
	if len(active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}

	// subgradient u = X'(y - X beta) / lambda
	sub := make([]float64, p)
	for j := 0; j < p; j++ {
		var g float64
		for i := 0; i < n; i++ {
			g += cols[j][i] * resid[i]
		}
		sub[j] = g / lambda
	}

	return &ports.FitResult{
		Coefficients: beta,
		Active:       active,
		Signs:        signs,
		Subgradient:  sub,
		Lambda:       lambda,
	}, nil
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	default:
		return 0
	}
}
