package inference

import (
	"selectinf/domain/core"
)

// Contrast is a linear functional eta of the response defining the scalar
// parameter under inference (eta'y).
type Contrast []float64

// SelectionEvent is the set of outcomes consistent with the selection
// procedure having produced the observed active set. Polyhedral events carry
// extra structure (see internal/constraint); anything else is only usable
// through the sampling fallback.
type SelectionEvent interface {
	Contains(y []float64, tol float64) bool
	Dim() int
}

// PredicateEvent is a general convex membership predicate, used by
// procedures whose selection event has no polyhedral representation.
type PredicateEvent struct {
	N  int
	Fn func(y []float64, tol float64) bool
}

func (e *PredicateEvent) Contains(y []float64, tol float64) bool {
	return e.Fn(y, tol)
}

func (e *PredicateEvent) Dim() int { return e.N }

// Status flags the outcome of a single coefficient's inference. Recoverable
// failures are reported here instead of aborting the batch.
type Status string

const (
	StatusOK         Status = "ok"
	StatusDegenerate Status = "degenerate_interval"
	StatusUnbounded  Status = "unbounded_interval"
	StatusSampled    Status = "sampled"
	StatusInflated   Status = "sampling_inflated"
	StatusInfeasible Status = "infeasible"
)

// InferenceResult is the terminal output for one selected coefficient.
type InferenceResult struct {
	Variable      int            `json:"variable" db:"variable"`
	VariableKey   string         `json:"variable_key" db:"variable_key"`
	PointEstimate float64        `json:"point_estimate" db:"point_estimate"`
	IntervalLow   float64        `json:"interval_low" db:"interval_low"`
	IntervalHigh  float64        `json:"interval_high" db:"interval_high"`
	PValue        float64        `json:"p_value" db:"p_value"`
	CoverageLevel float64        `json:"coverage_level" db:"coverage_level"`
	StdErr        float64        `json:"std_err" db:"std_err"`
	MCStdErr      float64        `json:"mc_std_err" db:"mc_std_err"`
	Status        Status         `json:"status" db:"status"`
	Warning       string         `json:"warning,omitempty" db:"warning"`
	ComputedAt    core.Timestamp `json:"computed_at" db:"computed_at"`
}

// Run captures one invocation of SelectAndInfer for persistence and audit.
type Run struct {
	ID            core.RunID     `json:"id" db:"id"`
	Procedure     string         `json:"procedure" db:"procedure"`
	N             int            `json:"n" db:"n"`
	P             int            `json:"p" db:"p"`
	CoverageLevel float64        `json:"coverage_level" db:"coverage_level"`
	ActiveSize    int            `json:"active_size" db:"active_size"`
	CreatedAt     core.Timestamp `json:"created_at" db:"created_at"`
}
