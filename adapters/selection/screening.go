package selection

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
	"selectinf/ports"
)

// MarginalScreening keeps every variable whose absolute marginal score
// |x_j'y| clears a threshold. The selection event is the box of responses
// with the same winners and the same score signs.
type MarginalScreening struct {
	Threshold float64
}

// NewMarginalScreening returns the adapter for a fixed score threshold.
func NewMarginalScreening(threshold float64) *MarginalScreening {
	return &MarginalScreening{Threshold: threshold}
}

func (p *MarginalScreening) Name() string { return "marginal_screening" }

// Fit runs the screen; like stepwise, the procedure is its own solver.
// Active variables are ordered by decreasing absolute score.
func (p *MarginalScreening) Fit(ctx context.Context, X *mat.Dense, y []float64, penalty ports.PenaltyParams) (*ports.FitResult, error) {
	_ = penalty
	n, pdim := X.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}

	type scored struct {
		idx   int
		score float64
	}
	var selected []scored
	for j := 0; j < pdim; j++ {
		s := dot(column(X, j), y)
		if math.Abs(s) >= p.Threshold {
			selected = append(selected, scored{j, s})
		}
	}
	if len(selected) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	sort.Slice(selected, func(a, b int) bool {
		return math.Abs(selected[a].score) > math.Abs(selected[b].score)
	})

	active := make([]int, len(selected))
	signs := make([]float64, len(selected))
	coefs := make([]float64, pdim)
	for i, s := range selected {
		active[i] = s.idx
		signs[i] = sign(s.score)
		xj := column(X, s.idx)
		coefs[s.idx] = s.score / dot(xj, xj)
	}
	return &ports.FitResult{Coefficients: coefs, Active: active, Signs: signs}, nil
}

// DeriveEvent emits one row per selected variable pinning its score past the
// threshold with the observed sign, and two rows per rejected variable
// keeping its score inside the band.
func (p *MarginalScreening) DeriveEvent(fit *ports.FitResult, X *mat.Dense, y []float64, noise *inference.NoiseModel) (inference.SelectionEvent, error) {
	if len(fit.Active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	n, pdim := X.Dims()

	isActive := make(map[int]float64, len(fit.Active))
	for i, a := range fit.Active {
		isActive[a] = fit.Signs[i]
	}

	rows := len(fit.Active) + 2*(pdim-len(fit.Active))
	a := mat.NewDense(rows, n, nil)
	b := make([]float64, rows)
	r := 0
	for _, j := range fit.Active {
		s := isActive[j]
		xj := column(X, j)
		for i := 0; i < n; i++ {
			a.Set(r, i, -s*xj[i])
		}
		b[r] = -p.Threshold
		r++
	}
	for j := 0; j < pdim; j++ {
		if _, ok := isActive[j]; ok {
			continue
		}
		xj := column(X, j)
		for i := 0; i < n; i++ {
			a.Set(r, i, xj[i])
			a.Set(r+1, i, -xj[i])
		}
		b[r] = p.Threshold
		b[r+1] = p.Threshold
		r += 2
	}
	return constraint.New(a, b, noise)
}

// DeriveContrast returns the marginal estimator direction for the j-th
// selected variable: x_j scaled by its squared norm.
func (p *MarginalScreening) DeriveContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	if j < 0 || j >= len(fit.Active) {
		return nil, core.NewDimensionError("coefficient index", j, len(fit.Active))
	}
	xj := column(X, fit.Active[j])
	norm2 := dot(xj, xj)
	n := len(xj)
	eta := make(inference.Contrast, n)
	for i := 0; i < n; i++ {
		eta[i] = xj[i] / norm2
	}
	return eta, nil
}
