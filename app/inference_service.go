package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"

	"selectinf/domain/core"
	"selectinf/domain/inference"
	"selectinf/internal/config"
	"selectinf/internal/constraint"
	"selectinf/internal/invert"
	"selectinf/internal/pivot"
	"selectinf/internal/sampler"
	"selectinf/ports"
)

// Request bundles the inputs of one select-and-infer call.
type Request struct {
	Noise    *inference.NoiseModel
	Penalty  ports.PenaltyParams
	Coverage float64 // e.g. 0.9 for 90% intervals
	Keys     []string // optional variable names, length p
}

// InferenceService runs the full pipeline: solver fit, selection event,
// per-coefficient conditional inference. Per-coefficient work is independent
// and dispatched across a bounded worker pool; each worker owns its contrast
// and reads the shared event, which is immutable after construction.
type InferenceService struct {
	solver     ports.SolverPort
	procedure  ports.SelectionProcedurePort
	repo       ports.ResultRepositoryPort // optional
	engine     *pivot.Engine
	inverter   *invert.Inverter
	infCfg     config.InferenceConfig
	samplerCfg config.SamplerConfig
}

// NewInferenceService wires the pipeline. repo may be nil to skip
// persistence.
func NewInferenceService(solver ports.SolverPort, procedure ports.SelectionProcedurePort, cfg *config.Config, repo ports.ResultRepositoryPort) *InferenceService {
	engine := pivot.NewEngine()
	engine.Tol = cfg.Inference.Tolerance
	engine.DegenerateFloor = cfg.Inference.DegenerateFloor

	inverter := invert.NewInverter()
	inverter.MaxDoublings = cfg.Inference.MaxDoublings

	return &InferenceService{
		solver:     solver,
		procedure:  procedure,
		repo:       repo,
		engine:     engine,
		inverter:   inverter,
		infCfg:     cfg.Inference,
		samplerCfg: cfg.Sampler,
	}
}

// SelectAndInfer fits the selection procedure and produces one
// InferenceResult per selected coefficient, in selection order. Recoverable
// per-coefficient failures become status flags; only malformed input or an
// infeasible observation aborts the call.
func (s *InferenceService) SelectAndInfer(ctx context.Context, X *mat.Dense, y []float64, req Request) ([]inference.InferenceResult, error) {
	n, p := X.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	if req.Noise == nil || req.Noise.Dim() != n {
		return nil, core.NewDimensionError("noise model", dimOf(req.Noise), n)
	}
	if req.Coverage <= 0 || req.Coverage >= 1 {
		return nil, fmt.Errorf("coverage level must be in (0,1), got %g", req.Coverage)
	}

	fit, err := s.solver.Fit(ctx, X, y, req.Penalty)
	if err != nil {
		return nil, fmt.Errorf("selection fit failed: %w", err)
	}
	log.Printf("[InferenceService] %s selected %d of %d variables", s.procedure.Name(), fit.ActiveSize(), p)

	event, err := s.procedure.DeriveEvent(fit, X, y, req.Noise)
	if err != nil {
		return nil, fmt.Errorf("deriving selection event: %w", err)
	}

	affine, polyhedral := event.(*constraint.AffineConstraints)
	if polyhedral {
		// selection self-consistency: the observed response must lie in its
		// own selection event, anything else is an adapter bug
		if err := affine.CheckObservation(y, s.infCfg.Tolerance); err != nil {
			return nil, err
		}
	} else if !event.Contains(y, s.infCfg.Tolerance) {
		return nil, core.NewInfeasibleError(-1, 0)
	}

	useSampling := s.infCfg.Fallback == config.FallbackAlways || !polyhedral
	if !polyhedral && s.infCfg.Fallback == config.FallbackNever {
		return nil, core.ErrNonPolyhedralEvent
	}

	results := make([]inference.InferenceResult, fit.ActiveSize())
	sem := semaphore.NewWeighted(int64(s.infCfg.Parallelism))
	g, gctx := errgroup.WithContext(ctx)

	for j := 0; j < fit.ActiveSize(); j++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			// gctx is cancelled only once a worker fails; that worker's
			// error surfaces from Wait below
			break
		}
		j := j
		g.Go(func() error {
			defer sem.Release(1)
			res, err := s.inferOne(gctx, X, y, fit, event, affine, req, j, useSampling)
			if err != nil {
				return err
			}
			results[j] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.persist(ctx, fit, n, p, req.Coverage, results)
	return results, nil
}

// inferOne handles a single selected coefficient. Recoverable errors are
// folded into the result status and never propagate.
func (s *InferenceService) inferOne(ctx context.Context, X *mat.Dense, y []float64, fit *ports.FitResult, event inference.SelectionEvent, affine *constraint.AffineConstraints, req Request, j int, useSampling bool) (inference.InferenceResult, error) {
	varIdx := fit.Active[j]
	res := inference.InferenceResult{
		Variable:      varIdx,
		CoverageLevel: req.Coverage,
		Status:        inference.StatusOK,
		ComputedAt:    core.Now(),
	}
	if req.Keys != nil && varIdx < len(req.Keys) {
		res.VariableKey = req.Keys[varIdx]
	}

	eta, err := s.procedure.DeriveContrast(fit, X, j)
	if err != nil {
		return res, err
	}
	obs := dotProduct(eta, y)
	sigma2 := req.Noise.Quad([]float64(eta))
	res.PointEstimate = obs
	res.StdErr = math.Sqrt(sigma2)

	if useSampling {
		s.inferSampled(ctx, event, req, y, eta, obs, sigma2, j, &res)
		return res, nil
	}

	iv, obsStat, sigma, err := s.engine.Slice(affine, eta, y)
	if err != nil {
		if errors.Is(err, core.ErrDegenerateInterval) {
			// conditional distribution collapsed to a point mass: report the
			// deterministic statistic, flag the interval as non-identifiable
			res.Status = inference.StatusDegenerate
			res.IntervalLow = obs
			res.IntervalHigh = obs
			res.PValue = math.NaN()
			res.Warning = err.Error()
			return res, nil
		}
		return res, err
	}

	fn := func(theta float64) (float64, error) {
		return s.engine.PivotAt(iv, obsStat, sigma, theta)
	}

	pv, err := invert.PValue(fn, invert.AltTwoSided)
	if err != nil {
		return res, err
	}
	res.PValue = pv

	low, high, err := s.inverter.Invert(req.Coverage, obsStat, sigma, fn)
	if err != nil {
		if errors.Is(err, core.ErrRootBracket) {
			res.Status = inference.StatusUnbounded
			res.IntervalLow = math.Inf(-1)
			res.IntervalHigh = math.Inf(1)
			res.Warning = err.Error()
			return res, nil
		}
		return res, err
	}
	res.IntervalLow = low
	res.IntervalHigh = high
	return res, nil
}

// inferSampled is the Monte Carlo path: conditional draws, tilted empirical
// pivot, interval inversion on the reweighted sample.
func (s *InferenceService) inferSampled(ctx context.Context, event inference.SelectionEvent, req Request, y []float64, eta inference.Contrast, obs, sigma2 float64, j int, res *inference.InferenceResult) {
	opts := sampler.Options{
		NDraw:         s.samplerCfg.NDraw,
		Burnin:        s.samplerCfg.Burnin,
		Thin:          1,
		MaxIter:       s.samplerCfg.MaxIter,
		MinAcceptRate: s.samplerCfg.MinAcceptRate,
		MixEvery:      10,
		Seed:          s.samplerCfg.Seed + int64(j),
	}

	stream, err := sampler.NewStream(event, req.Noise, y, eta, opts)
	if err != nil {
		res.Status = inference.StatusInflated
		res.Warning = err.Error()
		res.PValue = math.NaN()
		return
	}
	draws, err := sampler.Collect(ctx, stream, opts.NDraw)
	inflated := false
	if err != nil {
		if !errors.Is(err, core.ErrInsufficientSamples) || len(draws) < 100 {
			res.Status = inference.StatusInflated
			res.Warning = err.Error()
			res.PValue = math.NaN()
			res.IntervalLow = math.Inf(-1)
			res.IntervalHigh = math.Inf(1)
			return
		}
		// keep the partial sample, report inflated uncertainty
		inflated = true
	}

	emp := sampler.Pivot(draws, eta, obs)
	res.MCStdErr = emp.StdErr
	if inflated {
		res.MCStdErr *= 2
	}

	statistics := sampler.Statistics(draws, eta)
	fn := sampler.TiltedPivot(statistics, sigma2, obs)

	if pv, err := invert.PValue(invert.PivotFunc(fn), invert.AltTwoSided); err == nil {
		res.PValue = pv
	}
	low, high, err := s.inverter.Invert(req.Coverage, obs, math.Sqrt(sigma2), invert.PivotFunc(fn))
	if err != nil {
		res.Status = inference.StatusUnbounded
		res.IntervalLow = math.Inf(-1)
		res.IntervalHigh = math.Inf(1)
		res.Warning = err.Error()
		return
	}
	res.IntervalLow = low
	res.IntervalHigh = high
	if inflated {
		res.Status = inference.StatusInflated
	} else {
		res.Status = inference.StatusSampled
	}
}

// persist stores the run when a repository is configured. Persistence
// failures are logged, never fatal to inference.
func (s *InferenceService) persist(ctx context.Context, fit *ports.FitResult, n, p int, coverage float64, results []inference.InferenceResult) {
	if s.repo == nil {
		return
	}
	run := &inference.Run{
		ID:            core.RunID(core.NewID()),
		Procedure:     s.procedure.Name(),
		N:             n,
		P:             p,
		CoverageLevel: coverage,
		ActiveSize:    fit.ActiveSize(),
		CreatedAt:     core.Now(),
	}
	if err := s.repo.SaveRun(ctx, run); err != nil {
		log.Printf("[InferenceService] failed to save run: %v", err)
		return
	}
	if err := s.repo.SaveResults(ctx, run.ID, results); err != nil {
		log.Printf("[InferenceService] failed to save results: %v", err)
	}
}

func dotProduct(a inference.Contrast, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func dimOf(m *inference.NoiseModel) int {
	if m == nil {
		return 0
	}
	return m.Dim()
}
