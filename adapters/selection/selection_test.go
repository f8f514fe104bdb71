package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selectinf/adapters/solver"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
	"selectinf/internal/testkit"
	"selectinf/ports"
)

func newLassoFit(t *testing.T, inst *testkit.Instance, lambda float64) *ports.FitResult {
	t.Helper()
	s := solver.NewCoordinateDescent()
	fit, err := s.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{Lambda: lambda})
	require.NoError(t, err)
	return fit
}

func isotropic(t *testing.T, n int) *inference.NoiseModel {
	t.Helper()
	noise, err := inference.Isotropic(n, 1)
	require.NoError(t, err)
	return noise
}

// TestLassoEventContainsObservation is the self-consistency property every
// polyhedral derivation must satisfy: the response that produced the
// selection lies inside the event.
func TestLassoEventContainsObservation(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 50, P: 10, Sparsity: 3, SNR: 5, Sigma: 1, Rho: 0.2, Seed: 4,
	})
	fit := newLassoFit(t, inst, 0.4)
	require.NotEmpty(t, fit.Active)

	proc := NewLasso()
	event, err := proc.DeriveEvent(fit, inst.X, inst.Y, isotropic(t, 50))
	require.NoError(t, err)

	con, ok := event.(*constraint.AffineConstraints)
	require.True(t, ok, "lasso event should be polyhedral")
	require.NoError(t, con.CheckObservation(inst.Y, constraint.DefaultTol))

	// active rows plus a sign pair for each inactive variable
	k := len(fit.Active)
	assert.Equal(t, k+2*(10-k), con.Rows())
}

func TestLassoContrastTargetsRefitCoefficient(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 8, Sparsity: 2, SNR: 6, Sigma: 0.5, Seed: 13,
	})
	fit := newLassoFit(t, inst, 0.3)
	require.NotEmpty(t, fit.Active)

	refitted, err := refit(inst.X, inst.Y, fit.Active)
	require.NoError(t, err)

	proc := NewLasso()
	for j, col := range fit.Active {
		eta, err := proc.DeriveContrast(fit, inst.X, j)
		require.NoError(t, err)
		require.Len(t, eta, 40)
		assert.InDelta(t, refitted[col], dot(eta, inst.Y), 1e-8,
			"contrast %d should reproduce the refitted coefficient", j)
	}
}

func TestLassoEventRequiresPenalty(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 20, P: 4, Sparsity: 1, SNR: 5, Sigma: 1, Seed: 1,
	})
	fit := newLassoFit(t, inst, 0.4)
	fit.Lambda = 0

	_, err := NewLasso().DeriveEvent(fit, inst.X, inst.Y, isotropic(t, 20))
	require.Error(t, err)
}

func TestStepwiseEventReplaysPath(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 6, Sparsity: 2, SNR: 6, Sigma: 0.5, Seed: 21,
	})

	proc := NewForwardStepwise(2)
	fit, err := proc.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{})
	require.NoError(t, err)
	require.Len(t, fit.Active, 2)

	// the signal variables have the strongest correlations
	assert.ElementsMatch(t, []int{0, 1}, fit.Active)

	event, err := proc.DeriveEvent(fit, inst.X, inst.Y, isotropic(t, 40))
	require.NoError(t, err)
	con, ok := event.(*constraint.AffineConstraints)
	require.True(t, ok)
	require.NoError(t, con.CheckObservation(inst.Y, constraint.DefaultTol))

	// step k contributes one sign row and a pair per remaining candidate
	assert.Equal(t, (1+2*5)+(1+2*4), con.Rows())
}

func TestStepwiseRefitMatchesLeastSquares(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 30, P: 5, Sparsity: 1, SNR: 8, Sigma: 0.5, Seed: 6,
	})
	proc := NewForwardStepwise(1)
	fit, err := proc.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{})
	require.NoError(t, err)

	eta, err := proc.DeriveContrast(fit, inst.X, 0)
	require.NoError(t, err)
	assert.InDelta(t, fit.Coefficients[fit.Active[0]], dot(eta, inst.Y), 1e-8)
}

func TestScreeningEvent(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 50, P: 8, Sparsity: 2, SNR: 6, Sigma: 0.5, Seed: 17,
	})

	proc := NewMarginalScreening(1.5)
	fit, err := proc.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{})
	require.NoError(t, err)
	require.NotEmpty(t, fit.Active)

	event, err := proc.DeriveEvent(fit, inst.X, inst.Y, isotropic(t, 50))
	require.NoError(t, err)
	con, ok := event.(*constraint.AffineConstraints)
	require.True(t, ok)
	require.NoError(t, con.CheckObservation(inst.Y, constraint.DefaultTol))

	k := len(fit.Active)
	assert.Equal(t, k+2*(8-k), con.Rows())

	// negating the response flips every score sign, leaving the event
	flipped := make([]float64, len(inst.Y))
	for i, v := range inst.Y {
		flipped[i] = -v
	}
	assert.False(t, con.Contains(flipped, constraint.DefaultTol))
}

func TestScreeningContrast(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 30, P: 4, Sparsity: 1, SNR: 6, Sigma: 0.5, Seed: 3,
	})
	proc := NewMarginalScreening(1.0)
	fit, err := proc.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{})
	require.NoError(t, err)

	// eta'y is the marginal coefficient x_j'y / ||x_j||^2
	eta, err := proc.DeriveContrast(fit, inst.X, 0)
	require.NoError(t, err)
	assert.InDelta(t, fit.Coefficients[fit.Active[0]], dot(eta, inst.Y), 1e-10)
}

func TestGroupLassoEventIsPredicate(t *testing.T) {
	inst := testkit.NewInstance(testkit.InstanceSpec{
		N: 40, P: 6, Sparsity: 2, SNR: 6, Sigma: 0.5, Seed: 9,
	})
	groups := [][]int{{0, 1}, {2, 3}, {4, 5}}

	gs := solver.NewGroupCoordinateDescent(groups)
	fit, err := gs.Fit(context.Background(), inst.X, inst.Y, ports.PenaltyParams{Lambda: 1.5})
	require.NoError(t, err)
	require.NotEmpty(t, fit.Active)
	fit.Lambda = 1.5

	proc := NewGroupLasso(groups)
	event, err := proc.DeriveEvent(fit, inst.X, inst.Y, isotropic(t, 40))
	require.NoError(t, err)

	_, isPredicate := event.(*inference.PredicateEvent)
	require.True(t, isPredicate, "group lasso event has no polyhedral form")
	assert.True(t, event.Contains(inst.Y, constraint.DefaultTol))
	assert.Equal(t, 40, event.Dim())
}
