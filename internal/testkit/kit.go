package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Instance is a simulated sparse regression problem with known ground truth,
// used by the calibration and end-to-end tests.
type Instance struct {
	X     *mat.Dense
	Y     []float64
	Beta  []float64
	Sigma float64
	Rng   *rand.Rand
}

// InstanceSpec configures the simulation.
type InstanceSpec struct {
	N           int     // observations
	P           int     // variables
	Sparsity    int     // nonzero coefficients
	SNR         float64 // signal size in sigma units
	Sigma       float64 // noise standard deviation
	Rho         float64 // equicorrelation of the design columns
	RandomSigns bool
	Seed        int64
}

// NewInstance draws a design with unit-norm columns and a response from the
// sparse linear model. The first Sparsity coefficients carry the signal.
func NewInstance(spec InstanceSpec) *Instance {
	rng := rand.New(rand.NewSource(spec.Seed))

	X := mat.NewDense(spec.N, spec.P, nil)
	shared := make([]float64, spec.N)
	for i := range shared {
		shared[i] = rng.NormFloat64()
	}
	for j := 0; j < spec.P; j++ {
		var norm float64
		col := make([]float64, spec.N)
		for i := 0; i < spec.N; i++ {
			v := rng.NormFloat64()
			if spec.Rho > 0 {
				v = math.Sqrt(spec.Rho)*shared[i] + math.Sqrt(1-spec.Rho)*v
			}
			col[i] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for i := 0; i < spec.N; i++ {
			X.Set(i, j, col[i]/norm)
		}
	}

	beta := make([]float64, spec.P)
	for j := 0; j < spec.Sparsity && j < spec.P; j++ {
		b := spec.SNR * spec.Sigma
		if spec.RandomSigns && rng.Float64() < 0.5 {
			b = -b
		}
		beta[j] = b
	}

	inst := &Instance{X: X, Beta: beta, Sigma: spec.Sigma, Rng: rng}
	inst.Y = inst.Draw()
	return inst
}

// Draw produces a fresh response from the same design and truth, reusing the
// instance's random stream.
func (in *Instance) Draw() []float64 {
	n, p := in.X.Dims()
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var mu float64
		for j := 0; j < p; j++ {
			mu += in.X.At(i, j) * in.Beta[j]
		}
		y[i] = mu + in.Sigma*in.Rng.NormFloat64()
	}
	return y
}

// TrueContrastValue computes eta' X beta, the parameter a contrast targets
// under the simulated truth.
func (in *Instance) TrueContrastValue(eta []float64) float64 {
	n, p := in.X.Dims()
	var total float64
	for i := 0; i < n; i++ {
		var mu float64
		for j := 0; j < p; j++ {
			mu += in.X.At(i, j) * in.Beta[j]
		}
		total += eta[i] * mu
	}
	return total
}

// Orthant returns the positive-orthant polyhedron -I y <= 0 in dimension n,
// a hand-checkable selection event used across the engine tests.
func Orthant(n int) (*mat.Dense, []float64) {
	a := mat.NewDense(n, n, nil)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		a.Set(i, i, -1)
	}
	return a, b
}
