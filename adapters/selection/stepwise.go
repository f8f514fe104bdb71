package selection

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
	"selectinf/ports"
)

// ForwardStepwise selects variables greedily by correlation with the current
// residual. Each step's winner contributes one pair of inequalities against
// every rejected candidate, conditioned on the earlier steps; rows are
// appended strictly in selection order and never re-derived independently.
type ForwardStepwise struct {
	Steps int
}

// NewForwardStepwise returns the adapter configured for a fixed number of
// steps.
func NewForwardStepwise(steps int) *ForwardStepwise {
	return &ForwardStepwise{Steps: steps}
}

func (p *ForwardStepwise) Name() string { return "forward_stepwise" }

// Fit runs the greedy selection itself; forward stepwise is its own solver.
// Implements ports.SolverPort so the service can drive it uniformly.
func (p *ForwardStepwise) Fit(ctx context.Context, X *mat.Dense, y []float64, penalty ports.PenaltyParams) (*ports.FitResult, error) {
	_ = penalty // stepwise is parametrized by step count, not a penalty
	n, pdim := X.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	steps := p.Steps
	if steps > pdim {
		steps = pdim
	}

	active := make([]int, 0, steps)
	signs := make([]float64, 0, steps)
	for k := 0; k < steps; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dirs := residualDirections(X, active)
		best, bestScore := -1, 0.0
		for i, w := range dirs {
			if w == nil {
				continue
			}
			score := dot(w, y)
			if math.Abs(score) > math.Abs(bestScore) {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		active = append(active, best)
		signs = append(signs, sign(bestScore))
	}
	if len(active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}

	coefs, err := refit(X, y, active)
	if err != nil {
		return nil, err
	}
	return &ports.FitResult{
		Coefficients: coefs,
		Active:       active,
		Signs:        signs,
	}, nil
}

// DeriveEvent replays the selection path. At step k the winner's signed score
// must dominate plus and minus every rejected candidate's score on the
// step-k residualized design.
func (p *ForwardStepwise) DeriveEvent(fit *ports.FitResult, X *mat.Dense, y []float64, noise *inference.NoiseModel) (inference.SelectionEvent, error) {
	if len(fit.Active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	n, pdim := X.Dims()

	var rowsA [][]float64
	var rowsB []float64
	prefix := make([]int, 0, len(fit.Active))
	for k, winner := range fit.Active {
		dirs := residualDirections(X, prefix)
		wWin := dirs[winner]
		if wWin == nil {
			return nil, core.NewInfeasibleError(k, 0)
		}
		s := fit.Signs[k]

		// the winner's score keeps its sign
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			row[i] = -s * wWin[i]
		}
		rowsA = append(rowsA, row)
		rowsB = append(rowsB, 0)

		for i := 0; i < pdim; i++ {
			if i == winner || dirs[i] == nil {
				continue
			}
			for _, u := range []float64{1, -1} {
				row := make([]float64, n)
				for a := 0; a < n; a++ {
					row[a] = u*dirs[i][a] - s*wWin[a]
				}
				rowsA = append(rowsA, row)
				rowsB = append(rowsB, 0)
			}
		}
		prefix = append(prefix, winner)
	}

	a := mat.NewDense(len(rowsA), n, nil)
	for r, row := range rowsA {
		a.SetRow(r, row)
	}
	return constraint.New(a, rowsB, noise)
}

// DeriveContrast returns the least-squares contrast for the j-th selected
// coefficient on the final active set.
func (p *ForwardStepwise) DeriveContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	return leastSquaresContrast(fit, X, j)
}

// residualDirections returns, for every variable, its design column
// residualized against the active prefix and normalized to unit length. A nil
// entry means the column is already active or lies in the active span.
func residualDirections(X *mat.Dense, active []int) [][]float64 {
	n, pdim := X.Dims()
	out := make([][]float64, pdim)

	isActive := make(map[int]bool, len(active))
	for _, a := range active {
		isActive[a] = true
	}

	var proj *mat.Dense
	if len(active) > 0 {
		XA := activeColumns(X, active)
		var err error
		proj, err = projector(XA)
		if err != nil {
			return out
		}
	}

	for i := 0; i < pdim; i++ {
		if isActive[i] {
			continue
		}
		xi := column(X, i)
		u := xi
		if proj != nil {
			u = make([]float64, n)
			pv := matVec(proj, xi)
			for a := 0; a < n; a++ {
				u[a] = xi[a] - pv[a]
			}
		}
		norm := math.Sqrt(dot(u, u))
		if norm < 1e-10 {
			continue
		}
		w := make([]float64, n)
		for a := 0; a < n; a++ {
			w[a] = u[a] / norm
		}
		out[i] = w
	}
	return out
}

// refit computes the least-squares coefficients on the active set, expanded
// back to a length-p vector.
func refit(X *mat.Dense, y []float64, active []int) ([]float64, error) {
	_, pdim := X.Dims()
	XA := activeColumns(X, active)
	pinv, err := pseudoInverse(XA)
	if err != nil {
		return nil, err
	}
	beta := matVec(pinv, y)
	out := make([]float64, pdim)
	for j, col := range active {
		out[col] = beta[j]
	}
	return out, nil
}

// leastSquaresContrast is shared by the procedures whose estimator is the
// refitted least-squares coefficient on the active set.
func leastSquaresContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	if j < 0 || j >= len(fit.Active) {
		return nil, core.NewDimensionError("coefficient index", j, len(fit.Active))
	}
	XA := activeColumns(X, fit.Active)
	pinv, err := pseudoInverse(XA)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	eta := make(inference.Contrast, n)
	for i := 0; i < n; i++ {
		eta[i] = pinv.At(j, i)
	}
	return eta, nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
