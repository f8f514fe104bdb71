package ports

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// PenaltyParams configures the penalized fit requested from a solver.
type PenaltyParams struct {
	Lambda  float64   // global penalty level
	Weights []float64 // optional per-variable weights, nil for uniform
}

// FitResult is the structured output of a selection fit. The inference core
// consumes only this; solver internals are opaque.
type FitResult struct {
	Coefficients []float64 // length p, zeros off the active set
	Active       []int     // active variable indices in selection order
	Signs        []float64 // signs of the active coefficients, aligned with Active
	Subgradient  []float64 // length p subgradient/dual at the solution, nil if unavailable
	Lambda       float64   // penalty actually applied
}

// ActiveSize returns the number of selected variables.
func (f *FitResult) ActiveSize() int { return len(f.Active) }

// SolverPort fits a penalized model and reports the active set with its
// optimality information. Implementations must be synchronous and reentrant
// per call.
type SolverPort interface {
	Fit(ctx context.Context, X *mat.Dense, y []float64, penalty PenaltyParams) (*FitResult, error)
}
