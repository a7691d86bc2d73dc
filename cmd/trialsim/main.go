// Command trialsim runs Monte Carlo simulations of a clinical trial
// definition, persists the aggregated results, and optionally exports
// run artifacts to a blob store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"

	"trialcore/internal/blob"
	"trialcore/internal/core"
	"trialcore/internal/exports"
	"trialcore/internal/infra/persistence/memory"
	"trialcore/internal/infra/persistence/postgres"
	"trialcore/internal/infra/persistence/sqlite"
	"trialcore/internal/observability"
	"trialcore/pkg/domain"
	"trialcore/pkg/scenario"
	"trialcore/pkg/sim"
)

type config struct {
	StoreDriver string `env:"TRIALCORE_STORE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"TRIALCORE_SQLITE_PATH" envDefault:"trialcore.db"`
	PostgresDSN string `env:"TRIALCORE_POSTGRES_DSN"`
	LogLevel    string `env:"TRIALCORE_LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "trialsim: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: "15:04:05",
	}))

	if err := run(context.Background(), cfg, logger, os.Args[1:]); err != nil {
		logger.Error("trialsim failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("trialsim", flag.ContinueOnError)
	trialPath := fs.String("trial", "", "path to trial definition JSON (required unless -list)")
	scenarioPath := fs.String("scenario", "", "path to scenario profile (YAML or JSON)")
	constraintPath := fs.String("constraints", "", "path to constraint configuration YAML")
	runs := fs.Int("runs", 100, "number of independent runs")
	seed := fs.Int64("seed", 1, "master seed; same seed reproduces the full batch")
	maxTime := fs.Float64("max-time", 0, "cap on simulated days per run (0 keeps the engine default)")
	retain := fs.Bool("retain", false, "retain per-run timelines in the stored record")
	policy := fs.String("incomplete", "clamp", "incomplete run policy: clamp or exclude")
	exportFmt := fs.String("export", "", "comma separated export formats after the run (csv,json)")
	list := fs.Bool("list", false, "list stored simulation records and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	svc := core.NewService(store,
		core.WithMetricsRecorder(observability.NewExpvarRecorder("trialsim")),
		core.WithLogger(logger),
	)
	defer svc.Close()

	if *list {
		return listRecords(ctx, svc)
	}
	if *trialPath == "" {
		fs.Usage()
		return errors.New("-trial is required")
	}

	raw, err := os.ReadFile(*trialPath)
	if err != nil {
		return fmt.Errorf("read trial definition: %w", err)
	}
	trial, err := domain.TrialFromJSON(raw)
	if err != nil {
		return fmt.Errorf("parse trial definition: %w", err)
	}

	req := core.SimulationRequest{
		Trial:      trial,
		MasterSeed: *seed,
		NumRuns:    *runs,
		MaxTime:    *maxTime,
		RetainRuns: *retain || *exportFmt != "",
	}
	switch *policy {
	case "clamp":
		req.Policy = sim.IncludeClamped
	case "exclude":
		req.Policy = sim.ExcludeIncomplete
	default:
		return fmt.Errorf("unknown incomplete policy %q", *policy)
	}
	if *scenarioPath != "" {
		profile, err := scenario.LoadProfile(*scenarioPath)
		if err != nil {
			return fmt.Errorf("load scenario profile: %w", err)
		}
		req.Profile = &profile
	}
	if *constraintPath != "" {
		set, err := loadConstraints(*constraintPath)
		if err != nil {
			return fmt.Errorf("load constraints: %w", err)
		}
		req.Constraints = set
	}

	record, err := svc.Simulate(ctx, req)
	if err != nil {
		return err
	}
	printSummary(record)

	if *exportFmt != "" {
		return exportRecord(ctx, svc, logger, record.ID, *exportFmt)
	}
	return nil
}

func openStore(ctx context.Context, cfg config) (core.RecordStore, error) {
	switch cfg.StoreDriver {
	case "memory", "":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(cfg.SQLitePath)
	case "postgres":
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func listRecords(ctx context.Context, svc *core.Service) error {
	records, err := svc.Records(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no simulation records")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  trial=%s scenario=%s runs=%d p50=%.2f created=%s\n",
			rec.ID, rec.TrialID, orDash(rec.ScenarioID), rec.NumRuns,
			rec.Results.CompletionP50, rec.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printSummary(record core.SimulationRecord) {
	res := record.Results
	fmt.Printf("simulation %s (trial %s)\n", record.ID, record.TrialID)
	if record.ScenarioID != "" {
		fmt.Printf("  scenario:        %s\n", record.ScenarioID)
	}
	fmt.Printf("  runs:            %d (%d completed, %d incomplete)\n", res.Runs, res.CompletedRuns, res.IncompleteRuns)
	fmt.Printf("  completion days: p10=%.2f p50=%.2f p90=%.2f\n", res.CompletionP10, res.CompletionP50, res.CompletionP90)
	fmt.Printf("  mean enrolled:   %.1f\n", res.MeanEnrolled)
}

func exportRecord(ctx context.Context, svc *core.Service, logger *slog.Logger, simulationID, formats string) error {
	var fmts []exports.Format
	for _, part := range strings.Split(formats, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fmts = append(fmts, exports.Format(part))
	}

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	worker := exports.NewWorker(svc, blobStore, logger)
	worker.Start()
	defer worker.Stop(ctx)

	queued, err := worker.Enqueue(ctx, exports.Input{SimulationID: simulationID, Formats: fmts})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(time.Minute)
	for time.Now().Before(deadline) {
		record, ok := worker.Get(queued.ID)
		if !ok {
			return fmt.Errorf("export %s vanished", queued.ID)
		}
		switch record.Status {
		case exports.StatusSucceeded:
			for _, artifact := range record.Artifacts {
				fmt.Printf("  exported %s (%s, %d bytes)\n", artifact.Key, artifact.Format, artifact.SizeBytes)
			}
			return nil
		case exports.StatusFailed:
			return fmt.Errorf("export failed: %s", record.Error)
		}
		time.Sleep(25 * time.Millisecond)
	}
	return errors.New("export timed out")
}
