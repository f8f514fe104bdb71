package ports

import (
	"context"

	"selectinf/domain/core"
	"selectinf/domain/inference"
)

// ResultRepositoryPort persists inference runs and their per-coefficient
// results. Persistence is optional; the inference core never requires it.
type ResultRepositoryPort interface {
	SaveRun(ctx context.Context, run *inference.Run) error
	SaveResults(ctx context.Context, runID core.RunID, results []inference.InferenceResult) error
	GetResultsByRun(ctx context.Context, runID core.RunID) ([]inference.InferenceResult, error)
	ListRuns(ctx context.Context, limit int) ([]inference.Run, error)
}
