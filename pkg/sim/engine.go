// Package sim runs deterministic event-driven Monte Carlo simulations of
// a trial. Each run is single-threaded and fully self-contained;
// parallelism exists only across independent runs. For a fixed (trial,
// constraints, master seed, run index) the resulting timeline is
// byte-for-byte identical across repeated executions.
package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"trialcore/pkg/dist"
	"trialcore/pkg/domain"
)

const (
	// DefaultMaxTime caps simulated time at ten years of days. Runs that
	// exceed it are recorded as incomplete, not failed.
	DefaultMaxTime = 3650.0

	// minRate floors enrollment rates so a near-zero draw produces a
	// huge gap instead of a division blowup.
	minRate = 1e-9

	// timeEpsilon nudges rescheduled events forward so a constraint that
	// reports no usable earliest valid time cannot pin the queue.
	timeEpsilon = 1e-9

	// maxDeferrals caps how often a single event may be rescheduled. A
	// cap this high is never reached by resource waits or temporal gates
	// that eventually resolve; mutually gating constraints hit it fast
	// and end the run as incomplete instead of livelocking.
	maxDeferrals = 100_000
)

// Engine executes Monte Carlo runs of a trial under an optional
// constraint overlay. The zero constraint set yields a pure
// entity-driven simulation.
type Engine struct {
	masterSeed  int64
	constraints *domain.ConstraintSet
	maxTime     float64
	retainRuns  bool
	policy      IncompletePolicy
	workers     int
	metrics     MetricsRecorder
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTime overrides the maximum simulated time per run.
func WithMaxTime(t float64) Option {
	return func(e *Engine) { e.maxTime = t }
}

// WithRetainRuns keeps every individual RunResult on the aggregate.
func WithRetainRuns() Option {
	return func(e *Engine) { e.retainRuns = true }
}

// WithIncompletePolicy selects how incomplete runs weigh into the
// completion time percentiles.
func WithIncompletePolicy(p IncompletePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWorkers bounds cross-run parallelism.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetricsRecorder attaches a recorder observed once per run and once
// per batch.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger attaches a structured logger for per-run debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an engine. constraints may be nil for an unconstrained
// simulation.
func New(masterSeed int64, constraints *domain.ConstraintSet, opts ...Option) *Engine {
	e := &Engine{
		masterSeed:  masterSeed,
		constraints: constraints,
		maxTime:     DefaultMaxTime,
		policy:      IncludeClamped,
		workers:     runtime.GOMAXPROCS(0),
		metrics:     nopMetrics{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes numRuns independent realizations of the trial and reduces
// them to aggregate statistics. Runs use seeds derived from the master
// seed and run index, never a shared random stream, so results do not
// depend on scheduling order. Cancellation is honored at run boundaries
// only; an in-flight run always finishes.
func (e *Engine) Run(ctx context.Context, trial domain.Trial, numRuns int) (AggregatedResults, error) {
	if numRuns <= 0 {
		return AggregatedResults{}, fmt.Errorf("num runs must be positive, got %d", numRuns)
	}
	if err := e.constraints.Bind(trial); err != nil {
		return AggregatedResults{}, err
	}

	start := time.Now()
	results := make([]RunResult, numRuns)
	errs := make([]error, numRuns)
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	canceled := false
	for i := 0; i < numRuns && !canceled; i++ {
		select {
		case <-ctx.Done():
			canceled = true
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			runStart := time.Now()
			res, err := e.runOne(trial, idx)
			e.metrics.Observe(ctx, "simulate_run", err == nil, time.Since(runStart))
			results[idx] = res
			errs[idx] = err
		}(i)
	}
	wg.Wait()
	if canceled {
		e.metrics.Observe(ctx, "simulate_batch", false, time.Since(start))
		return AggregatedResults{}, ctx.Err()
	}
	for idx, err := range errs {
		if err != nil {
			e.metrics.Observe(ctx, "simulate_batch", false, time.Since(start))
			return AggregatedResults{}, fmt.Errorf("run %d: %w", idx, err)
		}
	}

	agg := aggregate(results, e.maxTime, e.policy, e.retainRuns)
	e.metrics.Observe(ctx, "simulate_batch", true, time.Since(start))
	e.logger.Debug("simulation batch complete",
		"trial", trial.ID(),
		"runs", agg.Runs,
		"incomplete", agg.IncompleteRuns,
		"completion_p50", agg.CompletionP50,
	)
	return agg, nil
}

// RunSingle executes one run and returns its full causal timeline.
func (e *Engine) RunSingle(ctx context.Context, trial domain.Trial, runIndex int) (RunResult, error) {
	if err := ctx.Err(); err != nil {
		return RunResult{}, err
	}
	if runIndex < 0 {
		return RunResult{}, fmt.Errorf("run index must be non-negative, got %d", runIndex)
	}
	if err := e.constraints.Bind(trial); err != nil {
		return RunResult{}, err
	}
	start := time.Now()
	res, err := e.runOne(trial, runIndex)
	e.metrics.Observe(ctx, "simulate_single", err == nil, time.Since(start))
	return res, err
}

func (e *Engine) runOne(trial domain.Trial, runIndex int) (RunResult, error) {
	rs := newRunState(e.masterSeed, runIndex)
	if err := e.seedInitialEvents(rs, trial); err != nil {
		return RunResult{}, err
	}

	incomplete := false
	for rs.queue.Len() > 0 {
		ev := rs.dequeue()
		if ev.Time > e.maxTime {
			rs.clock = e.maxTime
			incomplete = true
			break
		}

		composed, err := e.constraints.Evaluate(rs, ev)
		if err != nil {
			return RunResult{}, err
		}
		scheduled := composed.ScheduledTime(ev.Time)
		if !composed.Valid || scheduled > ev.Time {
			if math.IsInf(scheduled, 1) {
				// The constraint cannot name an earliest valid time yet.
				// Park the event just behind the next queued one so the
				// state it is waiting on has a chance to materialize.
				next := rs.queue.peek()
				if next == nil {
					incomplete = true
					break
				}
				scheduled = next.Time + timeEpsilon
			}
			if scheduled <= ev.Time {
				scheduled = ev.Time + timeEpsilon
			}
			rs.deferrals[ev.Sequence]++
			if rs.deferrals[ev.Sequence] > maxDeferrals {
				incomplete = true
				break
			}
			for k, v := range composed.Overrides {
				ev.SetOverride(k, v)
			}
			ev.Time = scheduled
			e.deferCompletion(rs, trial, ev)
			rs.enqueue(ev)
			continue
		}
		for k, v := range composed.Overrides {
			ev.SetOverride(k, v)
		}

		rs.clock = ev.Time
		if err := e.execute(rs, trial, ev); err != nil {
			return RunResult{}, err
		}
		rs.budgetSpent += ev.Param("cost", 0)
		if e.goalsMet(rs, trial) {
			break
		}
	}
	if !e.goalsMet(rs, trial) {
		incomplete = true
	}

	terminalStates := make(map[string]string, len(rs.patients))
	for id, p := range rs.patients {
		terminalStates[id] = p.state
	}
	return RunResult{
		RunIndex:       runIndex,
		Timeline:       rs.timeline,
		CompletionTime: rs.clock,
		Enrolled:       rs.enrolled,
		Incomplete:     incomplete,
		TerminalStates: terminalStates,
	}, nil
}

// goalsMet reports whether the run reached its terminal condition: target
// enrollment hit, every enrolled patient in a terminal flow state, and
// every activity complete.
func (e *Engine) goalsMet(rs *runState, trial domain.Trial) bool {
	return rs.enrolled >= trial.TargetEnrollment() &&
		rs.terminal == len(rs.patients) &&
		rs.completed == len(trial.Activities())
}

// seedInitialEvents populates the queue from entity-level stochastic
// fields: one activation draw per site plus starts for dependency-free
// activities.
func (e *Engine) seedInitialEvents(rs *runState, trial domain.Trial) error {
	for _, site := range trial.Sites() {
		seq := rs.nextSeq()
		t, err := e.sample(rs, site.ActivationTime(), site.ID(), seq)
		if err != nil {
			return fmt.Errorf("site %s activation: %w", site.ID(), err)
		}
		rs.enqueue(&domain.Event{Time: t, Type: domain.EventSiteActivation, EntityID: site.ID(), Sequence: seq})
	}
	for _, act := range trial.Activities() {
		rs.activities[act.ID()] = &activityState{}
	}
	e.scheduleReadyActivities(rs, trial, 0)
	return nil
}

func (e *Engine) sample(rs *runState, d dist.Distribution, entityID string, seq uint64) (float64, error) {
	return d.Sample(dist.DeriveSeed(rs.masterSeed, rs.runIndex, entityID, seq))
}

// deferCompletion keeps resource holds in step with a completion event
// that constraints pushed past its sampled time, so capacity checks keep
// seeing the unit as held until the completion actually executes.
func (e *Engine) deferCompletion(rs *runState, trial domain.Trial, ev *domain.Event) {
	if ev.Type != domain.EventActivityComplete {
		return
	}
	act, ok := trial.Activity(ev.EntityID)
	if !ok {
		return
	}
	for _, res := range act.RequiredResources() {
		rs.deferRelease(res, act.ID(), ev.Time)
	}
}

func (e *Engine) execute(rs *runState, trial domain.Trial, ev *domain.Event) error {
	switch ev.Type {
	case domain.EventSiteActivation:
		return e.executeSiteActivation(rs, trial, ev)
	case domain.EventEnrollment:
		return e.executeEnrollment(rs, trial, ev)
	case domain.EventTransition:
		return e.executeTransition(rs, trial, ev)
	case domain.EventActivityStart:
		return e.executeActivityStart(rs, trial, ev)
	case domain.EventActivityComplete:
		return e.executeActivityComplete(rs, trial, ev)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (e *Engine) executeSiteActivation(rs *runState, trial domain.Trial, ev *domain.Event) error {
	site, ok := trial.Site(ev.EntityID)
	if !ok {
		return fmt.Errorf("activation for unknown site %s", ev.EntityID)
	}
	rs.markExecuted(ev)
	rs.record(ev, fmt.Sprintf("site %s activated", site.ID()))
	return e.scheduleEnrollment(rs, site, ev)
}

// scheduleEnrollment draws a fresh enrollment rate and enqueues the site's
// next enrollment one inter-arrival gap out. A speed multiplier override
// on the triggering event stretches or compresses the gap.
func (e *Engine) scheduleEnrollment(rs *runState, site domain.Site, ev *domain.Event) error {
	seq := rs.nextSeq()
	rate, err := e.sample(rs, site.EnrollmentRate(), site.ID(), seq)
	if err != nil {
		return fmt.Errorf("site %s enrollment rate: %w", site.ID(), err)
	}
	gap := 1 / math.Max(rate, minRate)
	gap /= speedMultiplier(ev)
	rs.enqueue(&domain.Event{Time: ev.Time + gap, Type: domain.EventEnrollment, EntityID: site.ID(), Sequence: seq})
	return nil
}

func (e *Engine) executeEnrollment(rs *runState, trial domain.Trial, ev *domain.Event) error {
	site, ok := trial.Site(ev.EntityID)
	if !ok {
		return fmt.Errorf("enrollment for unknown site %s", ev.EntityID)
	}
	if rs.enrolled >= trial.TargetEnrollment() {
		return nil // target reached while this draw was in flight
	}
	if maxCap, capped := site.MaxCapacity(); capped && rs.siteEnrolled[site.ID()] >= maxCap {
		return nil
	}

	rs.siteEnrolled[site.ID()]++
	rs.enrolled++
	patientID := fmt.Sprintf("%s/patient-%04d", site.ID(), rs.siteEnrolled[site.ID()])
	initial := trial.Flow().InitialState()
	rs.patients[patientID] = &patientState{state: initial}
	rs.markExecuted(ev)
	rs.record(ev, fmt.Sprintf("patient %s enrolled (%d of %d)", patientID, rs.enrolled, trial.TargetEnrollment()))

	if trial.Flow().IsTerminal(initial) {
		rs.terminal++
	} else if err := e.scheduleTransition(rs, trial, patientID, initial, ev); err != nil {
		return err
	}

	if rs.enrolled < trial.TargetEnrollment() {
		if maxCap, capped := site.MaxCapacity(); !capped || rs.siteEnrolled[site.ID()] < maxCap {
			return e.scheduleEnrollment(rs, site, ev)
		}
	}
	return nil
}

// scheduleTransition races the outgoing edges of the patient's current
// state: every edge is sampled with its own edge-scoped seed and only the
// earliest wins. The target is resolved now so re-evaluating the queued
// event never re-randomizes the outcome.
func (e *Engine) scheduleTransition(rs *runState, trial domain.Trial, patientID, from string, ev *domain.Event) error {
	flow := trial.Flow()
	outs := flow.TransitionsFrom(from)
	if len(outs) == 0 {
		// Dead-end non-terminal state; the patient can make no further
		// progress so the run treats them as settled.
		rs.terminal++
		return nil
	}
	seq := rs.nextSeq()
	bestDt := math.Inf(1)
	bestTo := ""
	for _, tr := range outs {
		d, ok := flow.TransitionTime(tr)
		if !ok {
			return fmt.Errorf("no transition time for %s", tr)
		}
		dt, err := e.sample(rs, d, patientID+":"+tr.String(), seq)
		if err != nil {
			return fmt.Errorf("patient %s transition %s: %w", patientID, tr, err)
		}
		if dt < bestDt {
			bestDt = dt
			bestTo = tr.To
		}
	}
	rs.patients[patientID].next = bestTo
	bestDt /= speedMultiplier(ev)
	rs.enqueue(&domain.Event{Time: ev.Time + bestDt, Type: domain.EventTransition, EntityID: patientID, Sequence: seq})
	return nil
}

func (e *Engine) executeTransition(rs *runState, trial domain.Trial, ev *domain.Event) error {
	p, ok := rs.patients[ev.EntityID]
	if !ok {
		return fmt.Errorf("transition for unknown patient %s", ev.EntityID)
	}
	from := p.state
	p.state = p.next
	p.next = ""
	rs.markExecuted(ev)
	rs.record(ev, fmt.Sprintf("patient %s moved from %s to %s", ev.EntityID, from, p.state))
	if trial.Flow().IsTerminal(p.state) {
		rs.terminal++
		return nil
	}
	return e.scheduleTransition(rs, trial, ev.EntityID, p.state, ev)
}

func (e *Engine) executeActivityStart(rs *runState, trial domain.Trial, ev *domain.Event) error {
	st, ok := rs.activities[ev.EntityID]
	if !ok {
		return fmt.Errorf("start for unknown activity %s", ev.EntityID)
	}
	if st.started {
		return nil
	}
	act, ok := trial.Activity(ev.EntityID)
	if !ok {
		return fmt.Errorf("start for unknown activity %s", ev.EntityID)
	}
	st.started = true

	seq := rs.nextSeq()
	dur, err := e.sample(rs, act.Duration(), act.ID(), seq)
	if err != nil {
		return fmt.Errorf("activity %s duration: %w", act.ID(), err)
	}
	dur /= speedMultiplier(ev)
	completeAt := ev.Time + dur
	for _, res := range act.RequiredResources() {
		rs.acquireResource(res, act.ID(), completeAt)
	}
	rs.markExecuted(ev)
	rs.record(ev, fmt.Sprintf("activity %s started", act.ID()))
	rs.enqueue(&domain.Event{Time: completeAt, Type: domain.EventActivityComplete, EntityID: act.ID(), Sequence: seq})
	return nil
}

func (e *Engine) executeActivityComplete(rs *runState, trial domain.Trial, ev *domain.Event) error {
	st, ok := rs.activities[ev.EntityID]
	if !ok || !st.started || st.completed {
		return fmt.Errorf("unexpected completion for activity %s", ev.EntityID)
	}
	act, ok := trial.Activity(ev.EntityID)
	if !ok {
		return fmt.Errorf("completion for unknown activity %s", ev.EntityID)
	}
	st.completed = true
	rs.completed++
	for _, res := range act.RequiredResources() {
		rs.releaseResource(res, act.ID())
	}
	rs.markExecuted(ev)
	rs.record(ev, fmt.Sprintf("activity %s completed", act.ID()))
	e.scheduleReadyActivities(rs, trial, ev.Time)
	return nil
}

// scheduleReadyActivities enqueues a start for every activity whose
// dependencies have all completed, in the trial's declared order.
func (e *Engine) scheduleReadyActivities(rs *runState, trial domain.Trial, now float64) {
	for _, act := range trial.Activities() {
		st := rs.activities[act.ID()]
		if st.started {
			continue
		}
		if _, pending := rs.pending[eventKey{act.ID(), domain.EventActivityStart}]; pending {
			continue
		}
		ready := true
		for _, dep := range act.Dependencies() {
			if !rs.activities[dep].completed {
				ready = false
				break
			}
		}
		if ready {
			rs.enqueue(&domain.Event{Time: now, Type: domain.EventActivityStart, EntityID: act.ID(), Sequence: rs.nextSeq()})
		}
	}
}

func speedMultiplier(ev *domain.Event) float64 {
	return math.Max(ev.Param("speed_multiplier", 1), minRate)
}
