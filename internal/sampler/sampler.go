package sampler

import (
	"context"
	"math"
	"math/rand"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/constraint"
)

// Options bounds the conditional sampler. Callers must supply a budget; the
// sampler never runs unbounded.
type Options struct {
	NDraw         int     // accepted draws to collect
	Burnin        int     // hit-and-run steps discarded before the first draw
	Thin          int     // hit-and-run steps between draws
	MaxIter       int     // total proposal budget across all draws
	MinAcceptRate float64 // below this rate after budget exhaustion, give up
	MixEvery      int     // every k-th hit-and-run step moves along eta; 0 disables
	Seed          int64
}

// DefaultOptions returns the budgets used when the caller does not tune them.
func DefaultOptions() Options {
	return Options{
		NDraw:         2000,
		Burnin:        500,
		Thin:          1,
		MaxIter:       500000,
		MinAcceptRate: 1e-4,
		MixEvery:      10,
		Seed:          1,
	}
}

// Stream is a lazy, restartable sequence of conditional draws.
type Stream interface {
	// Next produces one draw from the noise distribution conditioned on the
	// selection event, or an error when the budget is exhausted.
	Next(ctx context.Context) ([]float64, error)
	// Reset reseeds the stream and restarts it from its initial state.
	Reset(seed int64)
}

// Collect drains n draws from a stream, honoring context cancellation.
func Collect(ctx context.Context, s Stream, n int) ([][]float64, error) {
	out := make([][]float64, 0, n)
	for len(out) < n {
		draw, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, draw)
	}
	return out, nil
}

// NewStream routes a selection event to the appropriate sampler: hit-and-run
// for polyhedral events, rejection sampling for general membership
// predicates.
func NewStream(event inference.SelectionEvent, noise *inference.NoiseModel, y0 []float64, eta inference.Contrast, opts Options) (Stream, error) {
	switch ev := event.(type) {
	case *constraint.AffineConstraints:
		return NewHitAndRun(ev, y0, eta, opts)
	default:
		return NewRejection(event, noise, opts), nil
	}
}

// HitAndRun is a constrained random-walk sampler for polyhedral events,
// operating in whitened coordinates where each chord slice of the Gaussian
// is a one-dimensional truncated standard normal.
type HitAndRun struct {
	white *constraint.Whitened
	z     []float64 // current white point
	z0    []float64 // initial white point, kept for Reset
	eta   []float64 // contrast mapped into white space, unit norm; nil if none
	opts  Options
	rng   *rand.Rand
	iters int
	steps int
}

// NewHitAndRun builds the sampler started at the observed response, which by
// the self-consistency precondition lies inside the polyhedron.
func NewHitAndRun(con *constraint.AffineConstraints, y0 []float64, eta inference.Contrast, opts Options) (*HitAndRun, error) {
	white, err := con.Whiten()
	if err != nil {
		return nil, err
	}
	z0 := white.Forward(y0)
	if err := white.Con.CheckObservation(z0, constraint.DefaultTol); err != nil {
		return nil, err
	}
	h := &HitAndRun{
		white: white,
		z0:    z0,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
	if eta != nil {
		// eta'y in response space equals (Sigma^{1/2} eta_white)'z; mapping
		// the contrast keeps the mixing moves aligned with the statistic
		w := white.Forward(con.Noise().Mul(eta))
		norm := 0.0
		for _, v := range w {
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for i := range w {
				w[i] /= norm
			}
			h.eta = w
		}
	}
	h.restart()
	return h, nil
}

func (h *HitAndRun) restart() {
	h.z = make([]float64, len(h.z0))
	copy(h.z, h.z0)
	h.steps = 0
	h.iters = 0
	for i := 0; i < h.opts.Burnin; i++ {
		h.step()
	}
}

// Reset reseeds and restarts the walk from the observed point.
func (h *HitAndRun) Reset(seed int64) {
	h.rng = rand.New(rand.NewSource(seed))
	h.restart()
}

// Next advances the walk and returns one draw mapped back to response space.
func (h *HitAndRun) Next(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	thin := h.opts.Thin
	if thin < 1 {
		thin = 1
	}
	for i := 0; i < thin; i++ {
		for {
			if h.iters >= h.opts.MaxIter {
				return nil, core.NewSamplingError(h.steps, h.opts.NDraw, h.acceptRate())
			}
			if h.step() {
				break
			}
			// a failed chord leaves the chain in place; retrying is fine, but
			// re-emitting the old point as a fresh draw is not. Give up once
			// the walk is demonstrably not moving.
			if h.iters >= stuckCheckAfter && h.acceptRate() < h.opts.MinAcceptRate {
				return nil, core.NewSamplingError(h.steps, h.opts.NDraw, h.acceptRate())
			}
		}
	}
	return h.white.Inverse(h.z), nil
}

// stuckCheckAfter is the minimum number of proposals before the acceptance
// rate is trusted enough to abort a stuck walk.
const stuckCheckAfter = 100

func (h *HitAndRun) acceptRate() float64 {
	if h.iters == 0 {
		return 0
	}
	return float64(h.steps) / float64(h.iters)
}

// step performs one hit-and-run move: pick a direction, slice the polyhedron
// along it, and draw the new coordinate from the truncated standard normal on
// that chord. Reports whether the chain actually moved.
func (h *HitAndRun) step() bool {
	h.iters++
	d := h.direction()

	iv, obs, _, err := h.white.Con.TruncationInterval(d, h.z)
	if err != nil {
		return false
	}
	v, ok := truncStdNormal(h.rng, iv.Lower, iv.Upper)
	if !ok {
		return false
	}
	for i := range h.z {
		h.z[i] += (v - obs) * d[i]
	}
	h.steps++
	return true
}

func (h *HitAndRun) direction() []float64 {
	n := len(h.z)
	if h.eta != nil && h.opts.MixEvery > 0 && h.steps%h.opts.MixEvery == 0 {
		return h.eta
	}
	d := make([]float64, n)
	var norm float64
	for i := range d {
		d[i] = h.rng.NormFloat64()
		norm += d[i] * d[i]
	}
	norm = math.Sqrt(norm)
	for i := range d {
		d[i] /= norm
	}
	return d
}

// Rejection draws unconditional Gaussian noise and keeps draws inside the
// event. Used for non-polyhedral events where no chord decomposition exists.
type Rejection struct {
	event    inference.SelectionEvent
	noise    *inference.NoiseModel
	opts     Options
	rng      *rand.Rand
	attempts int
	accepted int
}

// NewRejection builds the rejection sampler.
func NewRejection(event inference.SelectionEvent, noise *inference.NoiseModel, opts Options) *Rejection {
	return &Rejection{
		event: event,
		noise: noise,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// Reset reseeds the sampler and clears its budget counters.
func (r *Rejection) Reset(seed int64) {
	r.rng = rand.New(rand.NewSource(seed))
	r.attempts = 0
	r.accepted = 0
}

// Next draws until a proposal lands inside the event or the budget runs out.
func (r *Rejection) Next(ctx context.Context) ([]float64, error) {
	n := r.noise.Dim()
	z := make([]float64, n)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.attempts >= r.opts.MaxIter {
			rate := float64(r.accepted) / float64(r.attempts)
			return nil, core.NewSamplingError(r.accepted, r.opts.NDraw, rate)
		}
		r.attempts++
		for i := range z {
			z[i] = r.rng.NormFloat64()
		}
		y := r.noise.SqrtMul(z)
		if r.event.Contains(y, constraint.DefaultTol) {
			r.accepted++
			return y, nil
		}
	}
}

// AcceptRate reports the fraction of proposals accepted so far.
func (r *Rejection) AcceptRate() float64 {
	if r.attempts == 0 {
		return 0
	}
	return float64(r.accepted) / float64(r.attempts)
}

// truncStdNormal draws from a standard normal truncated to [lo, hi]. Plain
// rejection near the bulk, Robert's exponential proposal in the tails,
// uniform proposal on narrow intervals. Returns false only if every proposal
// in a bounded number of tries is rejected.
func truncStdNormal(rng *rand.Rand, lo, hi float64) (float64, bool) {
	const maxTries = 1000

	if hi < lo {
		return 0, false
	}
	// mirror so the interval is on the nonnegative side when one-tailed
	if hi <= 0 {
		v, ok := truncStdNormal(rng, -hi, -lo)
		return -v, ok
	}

	switch {
	case lo <= 0:
		if !math.IsInf(hi, 1) && hi-lo < 0.5 {
			return uniformReject(rng, lo, hi, maxTries)
		}
		for i := 0; i < maxTries; i++ {
			z := rng.NormFloat64()
			if z >= lo && z <= hi {
				return z, true
			}
		}
		return uniformReject(rng, math.Max(lo, -8), math.Min(hi, 8), maxTries)
	default:
		// lo > 0: one-sided exponential proposal (Robert 1995), with the
		// upper bound enforced by rejection
		a := (lo + math.Sqrt(lo*lo+4)) / 2
		for i := 0; i < maxTries; i++ {
			z := lo + rng.ExpFloat64()/a
			if z > hi {
				continue
			}
			u := rng.Float64()
			diff := z - a
			if u <= math.Exp(-diff*diff/2) {
				return z, true
			}
		}
		if !math.IsInf(hi, 1) {
			return uniformReject(rng, lo, hi, maxTries)
		}
		return 0, false
	}
}

// uniformReject samples on a bounded interval with a uniform proposal and
// the Gaussian density ratio as acceptance probability.
func uniformReject(rng *rand.Rand, lo, hi float64, maxTries int) (float64, bool) {
	// density peak on the interval
	var m float64
	switch {
	case lo > 0:
		m = lo
	case hi < 0:
		m = hi
	default:
		m = 0
	}
	for i := 0; i < maxTries; i++ {
		z := lo + rng.Float64()*(hi-lo)
		if rng.Float64() <= math.Exp((m*m-z*z)/2) {
			return z, true
		}
	}
	return 0, false
}
