package selection

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/ports"
)

// GroupLasso covers selection rules whose event is convex but not
// polyhedral: the inactive-group KKT conditions bound euclidean norms of
// score blocks, so no finite inequality system describes the event. The
// adapter emits a membership predicate and the engine routes inference
// through the sampling fallback.
type GroupLasso struct {
	Groups [][]int
}

// NewGroupLasso returns the adapter for a fixed group partition of the
// variables.
func NewGroupLasso(groups [][]int) *GroupLasso {
	return &GroupLasso{Groups: groups}
}

func (p *GroupLasso) Name() string { return "group_lasso" }

// DeriveEvent builds the membership predicate: every inactive group's
// residualized score block stays inside the lambda ball, and every active
// group's marginal score block stays outside it.
func (p *GroupLasso) DeriveEvent(fit *ports.FitResult, X *mat.Dense, y []float64, noise *inference.NoiseModel) (inference.SelectionEvent, error) {
	if len(fit.Active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	if fit.Lambda <= 0 {
		return nil, core.ErrNonPolyhedralEvent
	}
	n, _ := X.Dims()

	activeVars := make(map[int]bool, len(fit.Active))
	for _, a := range fit.Active {
		activeVars[a] = true
	}
	var activeGroups, inactiveGroups [][]int
	for _, g := range p.Groups {
		if len(g) == 0 {
			continue
		}
		if activeVars[g[0]] {
			activeGroups = append(activeGroups, g)
		} else {
			inactiveGroups = append(inactiveGroups, g)
		}
	}

	XA := activeColumns(X, fit.Active)
	proj, err := projector(XA)
	if err != nil {
		return nil, err
	}
	lambda := fit.Lambda

	groupScoreNorm := func(g []int, resid []float64) float64 {
		var sum float64
		for _, j := range g {
			s := dot(column(X, j), resid)
			sum += s * s
		}
		return math.Sqrt(sum)
	}

	contains := func(y []float64, tol float64) bool {
		pv := matVec(proj, y)
		resid := make([]float64, n)
		for i := 0; i < n; i++ {
			resid[i] = y[i] - pv[i]
		}
		for _, g := range inactiveGroups {
			if groupScoreNorm(g, resid) > lambda*(1+tol) {
				return false
			}
		}
		for _, g := range activeGroups {
			if groupScoreNorm(g, y) < lambda*(1-tol) {
				return false
			}
		}
		return true
	}

	return &inference.PredicateEvent{N: n, Fn: contains}, nil
}

// DeriveContrast returns the refitted least-squares contrast on the active
// variables, as for the lasso.
func (p *GroupLasso) DeriveContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	return leastSquaresContrast(fit, X, j)
}
