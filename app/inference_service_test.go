package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selectinf/adapters/selection"
	"selectinf/adapters/solver"
	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/config"
	"selectinf/internal/testkit"
	"selectinf/ports"
)

// MemoryRepository collects persisted runs and results for assertions.
type MemoryRepository struct {
	Runs    []*inference.Run
	Results map[core.RunID][]inference.InferenceResult
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{Results: make(map[core.RunID][]inference.InferenceResult)}
}

func (m *MemoryRepository) SaveRun(ctx context.Context, run *inference.Run) error {
	m.Runs = append(m.Runs, run)
	return nil
}

func (m *MemoryRepository) SaveResults(ctx context.Context, runID core.RunID, results []inference.InferenceResult) error {
	m.Results[runID] = results
	return nil
}

func (m *MemoryRepository) GetResultsByRun(ctx context.Context, runID core.RunID) ([]inference.InferenceResult, error) {
	return m.Results[runID], nil
}

func (m *MemoryRepository) ListRuns(ctx context.Context, limit int) ([]inference.Run, error) {
	out := make([]inference.Run, 0, len(m.Runs))
	for _, r := range m.Runs {
		out = append(out, *r)
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Inference: config.InferenceConfig{
			Tolerance:       1e-4,
			DegenerateFloor: 1e-8,
			MaxDoublings:    60,
			Parallelism:     2,
			Fallback:        config.FallbackAuto,
		},
		Sampler: config.SamplerConfig{
			NDraw:         2000,
			Burnin:        500,
			MaxIter:       500000,
			MinAcceptRate: 1e-4,
			Seed:          1,
		},
	}
}

func isotropicNoise(t *testing.T, n int, sigma2 float64) *inference.NoiseModel {
	t.Helper()
	noise, err := inference.Isotropic(n, sigma2)
	require.NoError(t, err)
	return noise
}

func TestSelectAndInferLasso(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 50, P: 10, Sparsity: 3, SNR: 5, Sigma: 1, Rho: 0.2, Seed: 42,
	})

	keys := make([]string, 10)
	for j := range keys {
		keys[j] = "v" + string(rune('0'+j))
	}

	svc := NewInferenceService(solver.NewCoordinateDescent(), selection.NewLasso(), testConfig(), nil)
	results, err := svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise:    isotropicNoise(t, 50, 1),
		Penalty:  ports.PenaltyParams{Lambda: 0.4},
		Coverage: 0.9,
		Keys:     keys,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, 0.9, r.CoverageLevel)
		assert.Equal(t, keys[r.Variable], r.VariableKey)
		assert.Greater(t, r.StdErr, 0.0)
		switch r.Status {
		case inference.StatusOK:
			assert.False(t, math.IsInf(r.IntervalLow, 0))
			assert.False(t, math.IsInf(r.IntervalHigh, 0))
			assert.Less(t, r.IntervalLow, r.IntervalHigh)
			assert.GreaterOrEqual(t, r.PValue, 0.0)
			assert.LessOrEqual(t, r.PValue, 1.0)
		case inference.StatusUnbounded:
			assert.True(t, math.IsInf(r.IntervalLow, -1) || math.IsInf(r.IntervalHigh, 1))
		case inference.StatusDegenerate:
			assert.Equal(t, r.IntervalLow, r.IntervalHigh)
		default:
			t.Errorf("unexpected status %q on the exact path", r.Status)
		}
	}
}

// contrastFailingProcedure behaves like its wrapped procedure except that the
// contrast for the first selected coefficient fails, the way a singular
// refit basis would.
type contrastFailingProcedure struct {
	ports.SelectionProcedurePort
	failErr error
}

func (p *contrastFailingProcedure) DeriveContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	if j == 0 {
		return nil, p.failErr
	}
	return p.SelectionProcedurePort.DeriveContrast(fit, X, j)
}

// TestWorkerFailureSurfacesRootCause pins the error reported when one
// per-coefficient worker fails mid-dispatch: the caller must see the worker's
// own error, not the pool cancellation it triggers.
func TestWorkerFailureSurfacesRootCause(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 50, P: 10, Sparsity: 3, SNR: 5, Sigma: 1, Rho: 0.2, Seed: 42,
	})
	sentinel := errors.New("singular contrast basis")

	cfg := testConfig()
	cfg.Inference.Parallelism = 1
	proc := &contrastFailingProcedure{selection.NewLasso(), sentinel}
	svc := NewInferenceService(solver.NewCoordinateDescent(), proc, cfg, nil)

	_, err := svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise:    isotropicNoise(t, 50, 1),
		Penalty:  ports.PenaltyParams{Lambda: 0.4},
		Coverage: 0.9,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, context.Canceled)
}

// TestIntervalCoverageCalibration replays the selection pipeline on fresh
// responses from a known truth and checks that the conditional intervals
// cover their targets at close to the nominal rate. The target of each
// interval is eta'mu for that replicate's selected set.
func TestIntervalCoverageCalibration(t *testing.T) {
	if testing.Short() {
		t.Skip("calibration simulation")
	}
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 50, P: 10, Sparsity: 3, SNR: 4, Sigma: 1, Seed: 77,
	})
	proc := selection.NewLasso()
	svc := NewInferenceService(solver.NewCoordinateDescent(), proc, testConfig(), nil)

	covered, total := 0, 0
	for rep := 0; rep < 100; rep++ {
		y := inst.Draw()
		results, err := svc.SelectAndInfer(context.Background(), inst.X, y, Request{
			Noise:    isotropicNoise(t, 50, 1),
			Penalty:  ports.PenaltyParams{Lambda: 0.4},
			Coverage: 0.9,
		})
		if errors.Is(err, core.ErrEmptyActiveSet) {
			continue
		}
		require.NoError(t, err)

		active := make([]int, len(results))
		for i, r := range results {
			active[i] = r.Variable
		}
		fit := &ports.FitResult{Active: active}
		for i, r := range results {
			if r.Status != inference.StatusOK {
				continue
			}
			eta, err := proc.DeriveContrast(fit, inst.X, i)
			require.NoError(t, err)
			truth := inst.TrueContrastValue(eta)
			total++
			if truth >= r.IntervalLow && truth <= r.IntervalHigh {
				covered++
			}
		}
	}
	require.Greater(t, total, 50, "simulation produced too few intervals")

	rate := float64(covered) / float64(total)
	t.Logf("coverage %d/%d = %.3f at nominal 0.9", covered, total, rate)
	assert.GreaterOrEqual(t, rate, 0.85)
}

func TestFallbackNeverRejectsPredicateEvent(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 6, Sparsity: 2, SNR: 6, Sigma: 0.5, Seed: 9,
	})
	groups := [][]int{{0, 1}, {2, 3}, {4, 5}}

	cfg := testConfig()
	cfg.Inference.Fallback = config.FallbackNever

	svc := NewInferenceService(solver.NewGroupCoordinateDescent(groups), selection.NewGroupLasso(groups), cfg, nil)
	_, err := svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise:    isotropicNoise(t, 40, 0.25),
		Penalty:  ports.PenaltyParams{Lambda: 1.5},
		Coverage: 0.9,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonPolyhedralEvent))
}

// TestSamplingAgreesWithExactPath forces the sampler on a polyhedral event
// and compares against the closed-form answer on the same data.
func TestSamplingAgreesWithExactPath(t *testing.T) {
	if testing.Short() {
		t.Skip("sampler comparison")
	}
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 5, Sparsity: 1, SNR: 6, Sigma: 1, Seed: 11,
	})
	req := Request{
		Noise:    isotropicNoise(t, 40, 1),
		Penalty:  ports.PenaltyParams{Lambda: 0.5},
		Coverage: 0.9,
	}

	exactSvc := NewInferenceService(solver.NewCoordinateDescent(), selection.NewLasso(), testConfig(), nil)
	exact, err := exactSvc.SelectAndInfer(context.Background(), inst.X, inst.Y, req)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Inference.Fallback = config.FallbackAlways
	cfg.Sampler.NDraw = 4000
	sampledSvc := NewInferenceService(solver.NewCoordinateDescent(), selection.NewLasso(), cfg, nil)
	sampled, err := sampledSvc.SelectAndInfer(context.Background(), inst.X, inst.Y, req)
	require.NoError(t, err)
	require.Equal(t, len(exact), len(sampled))

	for i := range exact {
		if exact[i].Status != inference.StatusOK || sampled[i].Status != inference.StatusSampled {
			continue
		}
		assert.Greater(t, sampled[i].MCStdErr, 0.0)
		assert.InDelta(t, exact[i].PValue, sampled[i].PValue, 0.15,
			"variable %d: exact p %.3f vs sampled p %.3f", exact[i].Variable, exact[i].PValue, sampled[i].PValue)
		// intervals estimated from the same data must overlap
		assert.Less(t, sampled[i].IntervalLow, exact[i].IntervalHigh)
		assert.Greater(t, sampled[i].IntervalHigh, exact[i].IntervalLow)
	}
}

func TestSelectAndInferValidation(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 20, P: 4, Sparsity: 1, SNR: 5, Sigma: 1, Seed: 1,
	})
	svc := NewInferenceService(solver.NewCoordinateDescent(), selection.NewLasso(), testConfig(), nil)
	noise := isotropicNoise(t, 20, 1)

	_, err := svc.SelectAndInfer(context.Background(), inst.X, inst.Y[:10], Request{
		Noise: noise, Penalty: ports.PenaltyParams{Lambda: 0.4}, Coverage: 0.9,
	})
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise: nil, Penalty: ports.PenaltyParams{Lambda: 0.4}, Coverage: 0.9,
	})
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))

	_, err = svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise: noise, Penalty: ports.PenaltyParams{Lambda: 0.4}, Coverage: 1.5,
	})
	assert.Error(t, err)
}

func TestPersistence(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 6, Sparsity: 2, SNR: 5, Sigma: 1, Seed: 5,
	})
	repo := NewMemoryRepository()
	svc := NewInferenceService(solver.NewCoordinateDescent(), selection.NewLasso(), testConfig(), repo)

	results, err := svc.SelectAndInfer(context.Background(), inst.X, inst.Y, Request{
		Noise:    isotropicNoise(t, 40, 1),
		Penalty:  ports.PenaltyParams{Lambda: 0.4},
		Coverage: 0.95,
	})
	require.NoError(t, err)

	require.Len(t, repo.Runs, 1)
	run := repo.Runs[0]
	assert.Equal(t, "lasso", run.Procedure)
	assert.Equal(t, 40, run.N)
	assert.Equal(t, 6, run.P)
	assert.Equal(t, len(results), run.ActiveSize)

	saved, err := repo.GetResultsByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, results, saved)
}
