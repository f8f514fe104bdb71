package ports

import (
	"gonum.org/v1/gonum/mat"

	"selectinf/domain/inference"
)

// SelectionProcedurePort translates a selection rule's optimality conditions
// at a fitted solution into the selection event and per-coefficient contrasts
// consumed by the inference engine. One implementation per rule; the set of
// rules is closed.
type SelectionProcedurePort interface {
	Name() string

	// DeriveEvent builds the selection event from the fit. The observed
	// response must lie inside the returned event; a violation downstream
	// indicates an adapter bug, not a valid runtime outcome.
	DeriveEvent(fit *FitResult, X *mat.Dense, y []float64, noise *inference.NoiseModel) (inference.SelectionEvent, error)

	// DeriveContrast returns eta for the j-th selected coefficient (j indexes
	// into fit.Active), such that eta'y is the coefficient's estimator
	// conditional on the selected active set.
	DeriveContrast(fit *FitResult, X *mat.Dense, j int) (inference.Contrast, error)
}
