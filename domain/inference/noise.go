package inference

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
)

// psdTol is the relative slack allowed on the smallest eigenvalue before a
// covariance is rejected as non-PSD.
const psdTol = 1e-10

// NoiseModel describes the Gaussian noise distribution of the response:
// either a full covariance matrix or sigma^2 times the identity. It is
// read-only after construction.
type NoiseModel struct {
	dim    int
	iso    bool
	sigma2 float64
	cov    *mat.SymDense

	// eigendecomposition, computed at most once; eigOnce guards the lazy
	// isotropic case so concurrent workers can share one model
	eigOnce sync.Once
	eigVecs *mat.Dense
	eigVals []float64
}

// Isotropic builds a noise model with covariance sigma2 * I.
func Isotropic(dim int, sigma2 float64) (*NoiseModel, error) {
	if dim <= 0 {
		return nil, core.NewDimensionError("noise dimension", dim, 1)
	}
	if sigma2 < 0 {
		return nil, core.ErrNotPSD
	}
	return &NoiseModel{dim: dim, iso: true, sigma2: sigma2}, nil
}

// FromCovariance builds a noise model from a full covariance matrix,
// rejecting matrices with eigenvalues materially below zero.
func FromCovariance(cov *mat.SymDense) (*NoiseModel, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, core.NewDimensionError("covariance", 0, 1)
	}
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, core.ErrNotPSD
	}
	vals := eig.Values(nil)
	maxVal := 0.0
	for _, v := range vals {
		if math.Abs(v) > maxVal {
			maxVal = math.Abs(v)
		}
	}
	for _, v := range vals {
		if v < -psdTol*math.Max(maxVal, 1) {
			return nil, core.ErrNotPSD
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	m := &NoiseModel{dim: n, cov: mat.NewSymDense(n, nil)}
	m.cov.CopySym(cov)
	m.eigVecs = &vecs
	m.eigVals = vals
	return m, nil
}

// Dim returns the response dimension n.
func (m *NoiseModel) Dim() int { return m.dim }

// Isotropic reports whether the covariance is sigma^2 * I.
func (m *NoiseModel) Isotropic() bool { return m.iso }

// Mul computes Sigma * v.
func (m *NoiseModel) Mul(v []float64) []float64 {
	out := make([]float64, m.dim)
	if m.iso {
		for i, x := range v {
			out[i] = m.sigma2 * x
		}
		return out
	}
	dst := mat.NewVecDense(m.dim, out)
	dst.MulVec(m.cov, mat.NewVecDense(m.dim, v))
	return out
}

// Quad computes the quadratic form v' Sigma v.
func (m *NoiseModel) Quad(v []float64) float64 {
	sv := m.Mul(v)
	total := 0.0
	for i := range v {
		total += v[i] * sv[i]
	}
	return total
}

// Eigen returns the eigenvectors and eigenvalues of the covariance, computing
// them on first use for the isotropic case. Safe for concurrent callers.
func (m *NoiseModel) Eigen() (*mat.Dense, []float64) {
	m.eigOnce.Do(func() {
		if m.eigVecs != nil {
			// full-covariance models decompose in FromCovariance
			return
		}
		vecs := mat.NewDense(m.dim, m.dim, nil)
		vals := make([]float64, m.dim)
		for i := 0; i < m.dim; i++ {
			vecs.Set(i, i, 1)
			vals[i] = m.sigma2
		}
		m.eigVecs = vecs
		m.eigVals = vals
	})
	return m.eigVecs, m.eigVals
}

// SqrtMul computes Sigma^{1/2} * z, used to transform white noise into
// response-space noise.
func (m *NoiseModel) SqrtMul(z []float64) []float64 {
	if m.iso {
		s := math.Sqrt(m.sigma2)
		out := make([]float64, m.dim)
		for i, x := range z {
			out[i] = s * x
		}
		return out
	}
	vecs, vals := m.Eigen()
	// U sqrt(D) U' z
	n := m.dim
	tmp := make([]float64, n)
	for j := 0; j < n; j++ {
		var dot float64
		for i := 0; i < n; i++ {
			dot += vecs.At(i, j) * z[i]
		}
		if vals[j] > 0 {
			tmp[j] = math.Sqrt(vals[j]) * dot
		}
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var dot float64
		for j := 0; j < n; j++ {
			dot += vecs.At(i, j) * tmp[j]
		}
		out[i] = dot
	}
	return out
}
