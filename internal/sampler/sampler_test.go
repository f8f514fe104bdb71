package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
	"selectinf/internal/pivot"
)

func orthant(t *testing.T, n int) *constraint.AffineConstraints {
	t.Helper()
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		a.Set(i, i, -1)
	}
	noise, err := inference.Isotropic(n, 1)
	require.NoError(t, err)
	con, err := constraint.New(a, make([]float64, n), noise)
	require.NoError(t, err)
	return con
}

func TestHitAndRunStaysInPolyhedron(t *testing.T) {
	con := orthant(t, 3)
	y0 := []float64{1, 2, 3}

	opts := DefaultOptions()
	opts.NDraw = 500
	h, err := NewHitAndRun(con, y0, inference.Contrast{1, 0, 0}, opts)
	require.NoError(t, err)

	draws, err := Collect(context.Background(), h, opts.NDraw)
	require.NoError(t, err)
	require.Len(t, draws, opts.NDraw)
	for i, y := range draws {
		if !con.Contains(y, 1e-8) {
			t.Fatalf("draw %d escaped the polyhedron: %v", i, y)
		}
	}
}

// TestHitAndRunAbortsWhenChainCannotMove strands the walk on a point whose
// chords all miss the polyhedron, so every proposal fails. The sampler must
// give up with a budget error rather than replay the stale point as draws.
func TestHitAndRunAbortsWhenChainCannotMove(t *testing.T) {
	// unit box 0 <= y <= 1 in two dimensions
	a := mat.NewDense(4, 2, []float64{
		-1, 0,
		0, -1,
		1, 0,
		0, 1,
	})
	noise, err := inference.Isotropic(2, 1)
	require.NoError(t, err)
	con, err := constraint.New(a, []float64{0, 0, 1, 1}, noise)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Burnin = 0
	opts.MinAcceptRate = 0.5
	opts.Seed = 7
	h, err := NewHitAndRun(con, []float64{0.5, 0.5}, nil, opts)
	require.NoError(t, err)

	// the noise is standard, so white coordinates coincide with response
	// space; park the chain far from the box
	h.z = []float64{-1e8, -1e8}

	draws, err := Collect(context.Background(), h, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientSamples))
	assert.Empty(t, draws)
}

func TestHitAndRunRejectsInfeasibleStart(t *testing.T) {
	con := orthant(t, 2)
	_, err := NewHitAndRun(con, []float64{-1, 1}, nil, DefaultOptions())
	require.Error(t, err)
	assert.True(t, core.IsInfeasibleError(err))
}

// TestEmpiricalPivotMatchesExact checks the sampler against the closed-form
// truncated-normal pivot on a one-dimensional slab, where both are available.
func TestEmpiricalPivotMatchesExact(t *testing.T) {
	// y in [0.5, 3], standard normal noise
	a := mat.NewDense(2, 1, []float64{-1, 1})
	b := []float64{-0.5, 3}
	noise, err := inference.Isotropic(1, 1)
	require.NoError(t, err)
	con, err := constraint.New(a, b, noise)
	require.NoError(t, err)

	observed := 1.2
	exact := pivot.TruncNormCDF(observed, 0.5, 3, 0, 1)

	opts := DefaultOptions()
	opts.NDraw = 4000
	opts.Seed = 7
	eta := inference.Contrast{1}
	h, err := NewHitAndRun(con, []float64{observed}, eta, opts)
	require.NoError(t, err)

	draws, err := Collect(context.Background(), h, opts.NDraw)
	require.NoError(t, err)

	emp := Pivot(draws, eta, observed)
	tol := 4*emp.StdErr + 0.02
	assert.InDelta(t, exact, emp.P, tol,
		"empirical pivot %g vs exact %g (se %g)", emp.P, exact, emp.StdErr)
	assert.GreaterOrEqual(t, emp.Diag.Min, 0.5-1e-6)
	assert.LessOrEqual(t, emp.Diag.Max, 3.0+1e-6)
}

func TestRejectionSampler(t *testing.T) {
	// keep the upper half-space through a membership predicate
	event := &inference.PredicateEvent{
		N:  2,
		Fn: func(y []float64, _ float64) bool { return y[0] >= 0 },
	}
	noise, err := inference.Isotropic(2, 1)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.NDraw = 1000
	opts.Seed = 3
	r := NewRejection(event, noise, opts)

	draws, err := Collect(context.Background(), r, opts.NDraw)
	require.NoError(t, err)
	require.Len(t, draws, opts.NDraw)
	for _, y := range draws {
		require.GreaterOrEqual(t, y[0], 0.0)
	}
	// half the mass survives, so the accept rate should sit near 0.5
	assert.InDelta(t, 0.5, r.AcceptRate(), 0.1)
}

func TestRejectionBudgetExhausted(t *testing.T) {
	event := &inference.PredicateEvent{
		N:  1,
		Fn: func(y []float64, _ float64) bool { return false },
	}
	noise, err := inference.Isotropic(1, 1)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MaxIter = 200
	r := NewRejection(event, noise, opts)

	_, err = r.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientSamples))
}

func TestStreamRouting(t *testing.T) {
	con := orthant(t, 2)
	noise := con.Noise()
	y0 := []float64{1, 1}

	s, err := NewStream(con, noise, y0, nil, DefaultOptions())
	require.NoError(t, err)
	_, isHR := s.(*HitAndRun)
	assert.True(t, isHR, "polyhedral event should get the hit-and-run sampler")

	pred := &inference.PredicateEvent{N: 2, Fn: func([]float64, float64) bool { return true }}
	s, err = NewStream(pred, noise, y0, nil, DefaultOptions())
	require.NoError(t, err)
	_, isRej := s.(*Rejection)
	assert.True(t, isRej, "predicate event should get the rejection sampler")
}

func TestCollectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	con := orthant(t, 2)
	h, err := NewHitAndRun(con, []float64{1, 1}, nil, DefaultOptions())
	require.NoError(t, err)
	_, err = Collect(ctx, h, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func newTestRng(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func TestTruncStdNormalRespectsBounds(t *testing.T) {
	rng := newTestRng(11)
	cases := []struct{ lo, hi float64 }{
		{-1, 1},
		{0.2, 0.4},
		{2, math.Inf(1)},
		{5, 6},
		{math.Inf(-1), -3},
		{-0.1, 0.05},
	}
	for _, c := range cases {
		for i := 0; i < 200; i++ {
			v, ok := truncStdNormal(rng, c.lo, c.hi)
			require.True(t, ok, "sampling [%g, %g] failed", c.lo, c.hi)
			require.GreaterOrEqual(t, v, c.lo)
			require.LessOrEqual(t, v, c.hi)
		}
	}
}

// TestTiltedPivotRecentersDraws verifies the importance reweighting: tilting
// toward larger theta shifts mass upward, so the pivot at the observed value
// decreases.
func TestTiltedPivotRecentersDraws(t *testing.T) {
	con := orthant(t, 1)
	opts := DefaultOptions()
	opts.NDraw = 3000
	opts.Seed = 5
	h, err := NewHitAndRun(con, []float64{0.8}, inference.Contrast{1}, opts)
	require.NoError(t, err)
	draws, err := Collect(context.Background(), h, opts.NDraw)
	require.NoError(t, err)

	statistics := Statistics(draws, inference.Contrast{1})
	fn := TiltedPivot(statistics, 1, 0.8)

	p0, err := fn(0)
	require.NoError(t, err)
	exact := pivot.TruncNormCDF(0.8, 0, math.Inf(1), 0, 1)
	assert.InDelta(t, exact, p0, 0.05)

	pUp, err := fn(1.5)
	require.NoError(t, err)
	pDown, err := fn(-1.5)
	require.NoError(t, err)
	assert.Less(t, pUp, p0)
	assert.Greater(t, pDown, p0)
}
