// Package core wires the simulation engine, scenario layer and record
// persistence behind a single service facade, and supplies the stock
// constraint implementations.
package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"trialcore/pkg/domain"
	"trialcore/pkg/scenario"
	"trialcore/pkg/sim"
)

// Service exposes higher-level simulation operations backed by a record
// store.
type Service struct {
	store   RecordStore
	metrics sim.MetricsRecorder
	logger  *slog.Logger
	nowFn   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetricsRecorder attaches a metrics recorder observed per operation.
func WithMetricsRecorder(m sim.MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source, used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store RecordStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		metrics: nopMetrics{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// SimulationRequest describes one simulation operation: a base trial, an
// optional scenario profile applied to it, an optional constraint overlay
// and the Monte Carlo parameters.
type SimulationRequest struct {
	Trial       domain.Trial
	Profile     *scenario.Profile
	Constraints *domain.ConstraintSet
	MasterSeed  int64
	NumRuns     int
	// MaxTime caps simulated time per run; zero keeps the engine default.
	MaxTime    float64
	RetainRuns bool
	Policy     sim.IncompletePolicy
}

// Simulate applies the request's scenario (if any), runs the engine and
// persists the aggregated outcome as a SimulationRecord.
func (s *Service) Simulate(ctx context.Context, req SimulationRequest) (SimulationRecord, error) {
	start := time.Now()
	record, err := s.simulate(ctx, req)
	s.metrics.Observe(ctx, "simulate", err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("simulation failed", "trial", req.Trial.ID(), "error", err)
		return SimulationRecord{}, err
	}
	s.logger.Info("simulation complete",
		"record", record.ID,
		"trial", record.TrialID,
		"scenario", record.ScenarioID,
		"runs", record.NumRuns,
		"completion_p50", record.Results.CompletionP50,
		"incomplete_runs", record.Results.IncompleteRuns,
	)
	return record, nil
}

func (s *Service) simulate(ctx context.Context, req SimulationRequest) (SimulationRecord, error) {
	if req.NumRuns <= 0 {
		return SimulationRecord{}, fmt.Errorf("num runs must be positive, got %d", req.NumRuns)
	}
	trial := req.Trial
	scenarioID := ""
	if req.Profile != nil {
		modified, err := scenario.Apply(trial, *req.Profile)
		if err != nil {
			return SimulationRecord{}, fmt.Errorf("apply scenario %s: %w", req.Profile.ScenarioID, err)
		}
		trial = modified
		scenarioID = req.Profile.ScenarioID
	}

	opts := []sim.Option{
		sim.WithMetricsRecorder(s.metrics),
		sim.WithLogger(s.logger),
		sim.WithIncompletePolicy(req.Policy),
	}
	if req.MaxTime > 0 {
		opts = append(opts, sim.WithMaxTime(req.MaxTime))
	}
	if req.RetainRuns {
		opts = append(opts, sim.WithRetainRuns())
	}
	engine := sim.New(req.MasterSeed, req.Constraints, opts...)
	results, err := engine.Run(ctx, trial, req.NumRuns)
	if err != nil {
		return SimulationRecord{}, err
	}

	record := SimulationRecord{
		ID:         newID(),
		TrialID:    req.Trial.ID(),
		ScenarioID: scenarioID,
		MasterSeed: req.MasterSeed,
		NumRuns:    req.NumRuns,
		CreatedAt:  s.nowFn(),
		Results:    results,
	}
	if err := s.store.SaveRecord(ctx, record); err != nil {
		return SimulationRecord{}, fmt.Errorf("save record: %w", err)
	}
	return record, nil
}

// Record fetches one persisted simulation record.
func (s *Service) Record(ctx context.Context, id string) (SimulationRecord, error) {
	return s.store.GetRecord(ctx, id)
}

// Records lists all persisted simulation records.
func (s *Service) Records(ctx context.Context) ([]SimulationRecord, error) {
	return s.store.ListRecords(ctx)
}

// Close releases the underlying store.
func (s *Service) Close() error { return s.store.Close() }

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
