package selection

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// activeColumns extracts the submatrix of X with the given columns, in the
// given order.
func activeColumns(X *mat.Dense, active []int) *mat.Dense {
	n, _ := X.Dims()
	out := mat.NewDense(n, len(active), nil)
	for j, col := range active {
		for i := 0; i < n; i++ {
			out.Set(i, j, X.At(i, col))
		}
	}
	return out
}

// gramInverse computes (XA'XA)^{-1}.
func gramInverse(XA *mat.Dense) (*mat.Dense, error) {
	var gram mat.Dense
	gram.Mul(XA.T(), XA)
	var inv mat.Dense
	if err := inv.Inverse(&gram); err != nil {
		return nil, fmt.Errorf("active-set Gram matrix is singular: %w", err)
	}
	return &inv, nil
}

// pseudoInverse computes (XA'XA)^{-1} XA', the least-squares estimator map of
// the active set. Its rows are the per-coefficient contrasts.
func pseudoInverse(XA *mat.Dense) (*mat.Dense, error) {
	inv, err := gramInverse(XA)
	if err != nil {
		return nil, err
	}
	var pinv mat.Dense
	pinv.Mul(inv, XA.T())
	return &pinv, nil
}

// projector computes P = XA (XA'XA)^{-1} XA', the orthogonal projector onto
// the active column span.
func projector(XA *mat.Dense) (*mat.Dense, error) {
	pinv, err := pseudoInverse(XA)
	if err != nil {
		return nil, err
	}
	var p mat.Dense
	p.Mul(XA, pinv)
	return &p, nil
}

// column returns column j of X as a slice.
func column(X *mat.Dense, j int) []float64 {
	n, _ := X.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = X.At(i, j)
	}
	return out
}

// dot is the plain inner product.
func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// matVec computes M v for a dense matrix and slice vector.
func matVec(M mat.Matrix, v []float64) []float64 {
	r, _ := M.Dims()
	out := make([]float64, r)
	dst := mat.NewVecDense(r, out)
	dst.MulVec(M, mat.NewVecDense(len(v), v))
	return out
}
