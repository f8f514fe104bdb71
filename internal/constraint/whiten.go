package constraint

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
)

// rankTol decides which covariance eigenvalues count as nonzero.
const rankTol = 1e-10

// Whitened is a change of basis under which the noise covariance is the
// identity. Forward maps response space into white coordinates; Inverse maps
// back. When the covariance is rank deficient the white space has lower
// dimension than the response space.
type Whitened struct {
	Con     *AffineConstraints
	sqrtCov *mat.Dense // n x rank, Sigma^{1/2} restricted to the range
	sqrtInv *mat.Dense // rank x n
	rank    int
	n       int
}

// Whiten rewrites the polyhedron in white coordinates with unit-norm rows.
// Grounds the hit-and-run sampler: in white space a chord slice of the
// standard Gaussian is a one-dimensional truncated standard normal.
func (c *AffineConstraints) Whiten() (*Whitened, error) {
	n := c.Dim()
	vecs, vals := c.noise.Eigen()

	rank := 0
	maxVal := 0.0
	for _, v := range vals {
		if v > maxVal {
			maxVal = v
		}
	}
	cut := rankTol * math.Max(maxVal, 1)
	for _, v := range vals {
		if v > cut {
			rank++
		}
	}
	if rank == 0 {
		return nil, core.ErrNotPSD
	}

	// gonum's EigenSym returns eigenvalues in ascending order; the top d
	// columns span the range of Sigma.
	sqrtCov := mat.NewDense(n, rank, nil)
	sqrtInv := mat.NewDense(rank, n, nil)
	col := 0
	for j := 0; j < n; j++ {
		if vals[j] <= cut {
			continue
		}
		s := math.Sqrt(vals[j])
		for i := 0; i < n; i++ {
			sqrtCov.Set(i, col, vecs.At(i, j)*s)
			sqrtInv.Set(col, i, vecs.At(i, j)/s)
		}
		col++
	}

	q := c.Rows()
	var newA mat.Dense
	newA.Mul(c.a, sqrtCov)
	newB := make([]float64, q)
	copy(newB, c.b)
	for i := 0; i < q; i++ {
		var norm float64
		for j := 0; j < rank; j++ {
			norm += newA.At(i, j) * newA.At(i, j)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for j := 0; j < rank; j++ {
			newA.Set(i, j, newA.At(i, j)/norm)
		}
		newB[i] /= norm
	}

	whiteNoise, err := inference.Isotropic(rank, 1)
	if err != nil {
		return nil, err
	}
	con, err := New(&newA, newB, whiteNoise)
	if err != nil {
		return nil, err
	}
	return &Whitened{Con: con, sqrtCov: sqrtCov, sqrtInv: sqrtInv, rank: rank, n: n}, nil
}

// Forward maps a response-space point into white coordinates.
func (w *Whitened) Forward(y []float64) []float64 {
	out := make([]float64, w.rank)
	for i := 0; i < w.rank; i++ {
		var dot float64
		for j := 0; j < w.n; j++ {
			dot += w.sqrtInv.At(i, j) * y[j]
		}
		out[i] = dot
	}
	return out
}

// Inverse maps a white point back into response space.
func (w *Whitened) Inverse(z []float64) []float64 {
	out := make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		var dot float64
		for j := 0; j < w.rank; j++ {
			dot += w.sqrtCov.At(i, j) * z[j]
		}
		out[i] = dot
	}
	return out
}

// Rank returns the dimension of the white space.
func (w *Whitened) Rank() int { return w.rank }
