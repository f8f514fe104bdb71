package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Precondition errors (abort the whole call)
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrNotPSD            = errors.New("covariance is not positive semi-definite")
	ErrEmptyActiveSet    = errors.New("selection produced an empty active set")

	// Per-coefficient inference errors (recoverable, surfaced as status flags)
	ErrInfeasibleObservation = errors.New("observation violates selection constraints")
	ErrDegenerateInterval    = errors.New("truncation interval collapsed below numerical floor")
	ErrRootBracket           = errors.New("interval inversion failed to bracket target coverage")
	ErrInsufficientSamples   = errors.New("conditional sampler exhausted budget below acceptance threshold")

	// Adapter errors
	ErrUnsupportedProcedure = errors.New("unsupported selection procedure")
	ErrNonPolyhedralEvent   = errors.New("selection event is not polyhedral")
)

// Error constructors with context
func NewDimensionError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has length %d, want %d", ErrDimensionMismatch, what, got, want)
}

func NewInfeasibleError(row int, slack float64) error {
	return fmt.Errorf("%w: row %d has slack %.3e", ErrInfeasibleObservation, row, slack)
}

func NewDegenerateError(lower, upper float64) error {
	return fmt.Errorf("%w: [%.6g, %.6g]", ErrDegenerateInterval, lower, upper)
}

func NewBracketError(target float64, doublings int) error {
	return fmt.Errorf("%w: target %.4g after %d doublings", ErrRootBracket, target, doublings)
}

func NewSamplingError(accepted, wanted int, rate float64) error {
	return fmt.Errorf("%w: %d/%d accepted (rate %.2e)", ErrInsufficientSamples, accepted, wanted, rate)
}

// Error checking helpers
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrNotPSD) ||
		errors.Is(err, ErrEmptyActiveSet)
}

func IsRecoverableError(err error) bool {
	return errors.Is(err, ErrDegenerateInterval) ||
		errors.Is(err, ErrRootBracket) ||
		errors.Is(err, ErrInsufficientSamples)
}

func IsInfeasibleError(err error) bool {
	return errors.Is(err, ErrInfeasibleObservation)
}
