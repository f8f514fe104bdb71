package selection

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
	"selectinf/ports"
)

// Lasso derives the polyhedral selection event of the lasso at a fixed
// penalty: the set of responses for which the fitted active set and signs
// come out the same. Active-set rows pin the coefficient signs; inactive
// rows bound the subgradient of the unselected variables.
type Lasso struct{}

// NewLasso returns the lasso procedure adapter.
func NewLasso() *Lasso { return &Lasso{} }

func (p *Lasso) Name() string { return "lasso" }

// DeriveEvent assembles {A, b} from the KKT conditions at the fitted
// solution. Requires fit.Active, fit.Signs and fit.Lambda.
func (p *Lasso) DeriveEvent(fit *ports.FitResult, X *mat.Dense, y []float64, noise *inference.NoiseModel) (inference.SelectionEvent, error) {
	if len(fit.Active) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	if fit.Lambda <= 0 {
		return nil, fmt.Errorf("lasso event needs a positive penalty, got %g", fit.Lambda)
	}
	n, pdim := X.Dims()
	if noise.Dim() != n {
		return nil, core.NewDimensionError("noise covariance", noise.Dim(), n)
	}

	XA := activeColumns(X, fit.Active)
	pinv, err := pseudoInverse(XA)
	if err != nil {
		return nil, err
	}
	ginv, err := gramInverse(XA)
	if err != nil {
		return nil, err
	}

	k := len(fit.Active)
	ginvS := matVec(ginv, fit.Signs)

	// Active block: sign(beta_j(y)) must match the fitted sign.
	// -diag(s) (XA'XA)^{-1} XA' y <= -lambda diag(s) (XA'XA)^{-1} s
	activeA := mat.NewDense(k, n, nil)
	activeB := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			activeA.Set(j, i, -fit.Signs[j]*pinv.At(j, i))
		}
		activeB[j] = -fit.Lambda * fit.Signs[j] * ginvS[j]
	}

	inactive := make([]int, 0, pdim-k)
	isActive := make(map[int]bool, k)
	for _, a := range fit.Active {
		isActive[a] = true
	}
	for j := 0; j < pdim; j++ {
		if !isActive[j] {
			inactive = append(inactive, j)
		}
	}

	rows := []*constraint.AffineConstraints{}
	activeCon, err := constraint.New(activeA, activeB, noise)
	if err != nil {
		return nil, err
	}
	rows = append(rows, activeCon)

	if len(inactive) > 0 {
		// Inactive block: the subgradient of each unselected variable stays
		// in [-1, 1]. With P the projector onto the active span,
		//   u_i(y) = (1/lambda) x_i'(I - P) y + x_i' XA (XA'XA)^{-1} s
		proj, err := projector(XA)
		if err != nil {
			return nil, err
		}
		m := len(inactive)
		inA := mat.NewDense(2*m, n, nil)
		inB := make([]float64, 2*m)
		xaGinvS := matVec(XA, ginvS)
		for r, i := range inactive {
			xi := column(X, i)
			resid := make([]float64, n)
			for a := 0; a < n; a++ {
				var pj float64
				for bIdx := 0; bIdx < n; bIdx++ {
					pj += proj.At(a, bIdx) * xi[bIdx]
				}
				resid[a] = (xi[a] - pj) / fit.Lambda
			}
			offset := dot(xi, xaGinvS)
			for a := 0; a < n; a++ {
				inA.Set(r, a, resid[a])
				inA.Set(m+r, a, -resid[a])
			}
			inB[r] = 1 - offset
			inB[m+r] = 1 + offset
		}
		inCon, err := constraint.New(inA, inB, noise)
		if err != nil {
			return nil, err
		}
		rows = append(rows, inCon)
	}

	return constraint.Stack(rows...)
}

// DeriveContrast returns eta for the j-th selected coefficient: row j of the
// active-set pseudoinverse, so eta'y is the refitted least-squares
// coefficient conditional on the selection.
func (p *Lasso) DeriveContrast(fit *ports.FitResult, X *mat.Dense, j int) (inference.Contrast, error) {
	return leastSquaresContrast(fit, X, j)
}
