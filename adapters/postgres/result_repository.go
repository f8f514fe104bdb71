package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"selectinf/domain/core"
	"selectinf/domain/inference"
)

// ResultRepository persists inference runs and per-coefficient results.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates the repository on an open connection.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Connect opens a postgres connection and ensures the schema exists.
func Connect(ctx context.Context, url string) (*ResultRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	repo := &ResultRepository{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *ResultRepository) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS inference_runs (
			id TEXT PRIMARY KEY,
			procedure TEXT NOT NULL,
			n INTEGER NOT NULL,
			p INTEGER NOT NULL,
			coverage_level DOUBLE PRECISION NOT NULL,
			active_size INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS inference_results (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES inference_runs(id),
			variable INTEGER NOT NULL,
			variable_key TEXT,
			point_estimate DOUBLE PRECISION NOT NULL,
			interval_low DOUBLE PRECISION NOT NULL,
			interval_high DOUBLE PRECISION NOT NULL,
			p_value DOUBLE PRECISION,
			coverage_level DOUBLE PRECISION NOT NULL,
			std_err DOUBLE PRECISION,
			mc_std_err DOUBLE PRECISION,
			status TEXT NOT NULL,
			warning TEXT,
			computed_at TIMESTAMPTZ NOT NULL
		);`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRun inserts the run manifest.
func (r *ResultRepository) SaveRun(ctx context.Context, run *inference.Run) error {
	query := `
		INSERT INTO inference_runs (id, procedure, n, p, coverage_level, active_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID.String(),
		run.Procedure,
		run.N,
		run.P,
		run.CoverageLevel,
		run.ActiveSize,
		run.CreatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// SaveResults inserts the per-coefficient results of a run.
func (r *ResultRepository) SaveResults(ctx context.Context, runID core.RunID, results []inference.InferenceResult) error {
	query := `
		INSERT INTO inference_results (
			run_id, variable, variable_key, point_estimate, interval_low,
			interval_high, p_value, coverage_level, std_err, mc_std_err,
			status, warning, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	for _, res := range results {
		_, err := r.db.ExecContext(ctx, query,
			runID.String(),
			res.Variable,
			res.VariableKey,
			res.PointEstimate,
			res.IntervalLow,
			res.IntervalHigh,
			res.PValue,
			res.CoverageLevel,
			res.StdErr,
			res.MCStdErr,
			string(res.Status),
			res.Warning,
			res.ComputedAt.Time(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for variable %d: %w", res.Variable, err)
		}
	}
	return nil
}

// GetResultsByRun lists the results of one run in insertion order.
func (r *ResultRepository) GetResultsByRun(ctx context.Context, runID core.RunID) ([]inference.InferenceResult, error) {
	query := `
		SELECT variable, variable_key, point_estimate, interval_low,
			   interval_high, p_value, coverage_level, std_err, mc_std_err,
			   status, warning, computed_at
		FROM inference_results
		WHERE run_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []inference.InferenceResult
	for rows.Next() {
		var res inference.InferenceResult
		var status string
		var computedAt time.Time
		if err := rows.Scan(
			&res.Variable,
			&res.VariableKey,
			&res.PointEstimate,
			&res.IntervalLow,
			&res.IntervalHigh,
			&res.PValue,
			&res.CoverageLevel,
			&res.StdErr,
			&res.MCStdErr,
			&status,
			&res.Warning,
			&computedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Status = inference.Status(status)
		res.ComputedAt = core.NewTimestamp(computedAt)
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs.
func (r *ResultRepository) ListRuns(ctx context.Context, limit int) ([]inference.Run, error) {
	query := `
		SELECT id, procedure, n, p, coverage_level, active_size, created_at
		FROM inference_runs
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []inference.Run
	for rows.Next() {
		var run inference.Run
		var id string
		var createdAt time.Time
		if err := rows.Scan(&id, &run.Procedure, &run.N, &run.P, &run.CoverageLevel, &run.ActiveSize, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ID = core.RunID(id)
		run.CreatedAt = core.NewTimestamp(createdAt)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Close releases the underlying connection.
func (r *ResultRepository) Close() error {
	return r.db.Close()
}
