package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"gonum.org/v1/gonum/mat"

	"selectinf/adapters/excel"
	"selectinf/adapters/postgres"
	"selectinf/adapters/selection"
	"selectinf/adapters/solver"
	"selectinf/app"
	"selectinf/domain/inference"
	"selectinf/internal/config"
	"selectinf/internal/testkit"
	"selectinf/ports"
)

func init() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: "15:04:05",
		}),
	))
}

func main() {
	_ = godotenv.Load()

	var (
		dataFile  = flag.String("data", "", "xlsx/csv dataset (response column 'y'); empty simulates one")
		procedure = flag.String("procedure", "lasso", "lasso | stepwise | screening")
		lambda    = flag.Float64("lambda", 0.1, "lasso penalty level")
		steps     = flag.Int("steps", 3, "forward stepwise step count")
		threshold = flag.Float64("threshold", 0.5, "marginal screening threshold")
		coverage  = flag.Float64("coverage", 0.9, "confidence level")
		sigma     = flag.Float64("sigma", 1.0, "noise standard deviation")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration", "err", err)
		os.Exit(1)
	}
	if *dataFile == "" {
		*dataFile = cfg.Data.File
	}

	ctx := context.Background()

	var X *mat.Dense
	var y []float64
	var keys []string
	if *dataFile != "" {
		ds, err := excel.NewDataReader(*dataFile).ReadDataset()
		if err != nil {
			slog.Error("loading dataset", "file", *dataFile, "err", err)
			os.Exit(1)
		}
		X, y, keys = ds.X, ds.Y, ds.Columns
	} else {
		slog.Info("no dataset supplied, simulating", "n", 50, "p", 10, "sparsity", 3)
		inst := testkit.NewInstance(testkit.InstanceSpec{
			N: 50, P: 10, Sparsity: 3, SNR: 5, Sigma: *sigma, Seed: 42,
		})
		X, y = inst.X, inst.Y
	}

	n, _ := X.Dims()
	noise, err := inference.Isotropic(n, *sigma**sigma)
	if err != nil {
		slog.Error("noise model", "err", err)
		os.Exit(1)
	}

	var fitter ports.SolverPort
	var proc ports.SelectionProcedurePort
	switch *procedure {
	case "lasso":
		fitter = solver.NewCoordinateDescent()
		proc = selection.NewLasso()
	case "stepwise":
		sw := selection.NewForwardStepwise(*steps)
		fitter, proc = sw, sw
	case "screening":
		ms := selection.NewMarginalScreening(*threshold)
		fitter, proc = ms, ms
	default:
		slog.Error("unknown procedure", "procedure", *procedure)
		os.Exit(1)
	}

	var repo ports.ResultRepositoryPort
	if cfg.Database.URL != "" {
		pg, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			slog.Warn("result store unavailable, continuing without persistence", "err", err)
		} else {
			defer pg.Close()
			repo = pg
		}
	}

	svc := app.NewInferenceService(fitter, proc, cfg, repo)
	results, err := svc.SelectAndInfer(ctx, X, y, app.Request{
		Noise:    noise,
		Penalty:  ports.PenaltyParams{Lambda: *lambda},
		Coverage: *coverage,
		Keys:     keys,
	})
	if err != nil {
		slog.Error("inference failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("%-10s %-14s %-24s %-10s %s\n", "variable", "estimate", "interval", "p-value", "status")
	for _, r := range results {
		name := r.VariableKey
		if name == "" {
			name = fmt.Sprintf("x%d", r.Variable)
		}
		iv := fmt.Sprintf("[%.4f, %.4f]", r.IntervalLow, r.IntervalHigh)
		if math.IsInf(r.IntervalLow, -1) && math.IsInf(r.IntervalHigh, 1) {
			iv = "(unbounded)"
		}
		fmt.Printf("%-10s %-14.4f %-24s %-10.4f %s\n", name, r.PointEstimate, iv, r.PValue, r.Status)
	}
}
