package core_test

import (
	"context"
	"math"
	"testing"

	"trialcore/internal/core"
	"trialcore/pkg/dist"
	"trialcore/pkg/domain"
	"trialcore/pkg/sim"
)

func mustDist(d dist.Distribution, err error) dist.Distribution {
	if err != nil {
		panic(err)
	}
	return d
}

func coreTrial(t *testing.T, target int, activities []domain.Activity, resources []domain.Resource) domain.Trial {
	t.Helper()
	site, err := domain.NewSite(domain.SiteParams{
		ID:             "site-1",
		ActivationTime: mustDist(dist.NewTriangular(1, 2, 3, nil)),
		EnrollmentRate: mustDist(dist.NewGamma(2, 1, nil)),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}
	flow, err := domain.NewPatientFlow(domain.PatientFlowParams{
		States:         []string{"screening", "completed"},
		InitialState:   "screening",
		TerminalStates: []string{"completed"},
		TransitionTimes: map[domain.Transition]dist.Distribution{
			{From: "screening", To: "completed"}: mustDist(dist.NewLogNormal(10, 0.3, nil)),
		},
	})
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	tr, err := domain.NewTrial(domain.TrialParams{
		ID:               "trial-1",
		TargetEnrollment: target,
		Sites:            []domain.Site{site},
		Flow:             flow,
		Activities:       activities,
		Resources:        resources,
	})
	if err != nil {
		t.Fatalf("new trial: %v", err)
	}
	return tr
}

// stubView hands constraints a canned partial-run state.
type stubView struct {
	clock    float64
	executed map[string]float64
	pending  map[string]float64
	enrolled int
	usage    map[string]int
	release  map[string]float64
	spent    float64
}

func (v stubView) Clock() float64 { return v.clock }

func (v stubView) EventTime(entityID string, typ domain.EventType) (float64, bool) {
	t, ok := v.executed[entityID+"/"+string(typ)]
	return t, ok
}

func (v stubView) PendingEventTime(entityID string, typ domain.EventType) (float64, bool) {
	t, ok := v.pending[entityID+"/"+string(typ)]
	return t, ok
}

func (v stubView) EnrollmentCount() int { return v.enrolled }

func (v stubView) ResourceUsage(resourceID string) int { return v.usage[resourceID] }

func (v stubView) NextResourceRelease(resourceID string) (float64, bool) {
	t, ok := v.release[resourceID]
	return t, ok
}

func (v stubView) BudgetSpent() float64 { return v.spent }

func TestTemporalPrecedenceValidation(t *testing.T) {
	if _, err := core.NewTemporalPrecedence("", domain.EventEnrollment); err == nil {
		t.Fatalf("empty predecessor accepted")
	}
	if _, err := core.NewTemporalPrecedence(domain.EventEnrollment, domain.EventEnrollment); err == nil {
		t.Fatalf("self-precedence accepted")
	}
}

func TestTemporalPrecedenceStates(t *testing.T) {
	c, err := core.NewTemporalPrecedence(domain.EventSiteActivation, domain.EventEnrollment)
	if err != nil {
		t.Fatalf("new constraint: %v", err)
	}
	ev := &domain.Event{Time: 5, Type: domain.EventEnrollment, EntityID: "site-1"}

	res, err := c.CheckValidity(stubView{executed: map[string]float64{"site-1/site_activation": 3}}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Valid {
		t.Fatalf("enrollment after executed activation should be valid: %+v", res)
	}

	res, err = c.CheckValidity(stubView{executed: map[string]float64{"site-1/site_activation": 9}}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Valid || res.EarliestValidTime != 9 {
		t.Fatalf("want invalid with earliest 9, got %+v", res)
	}

	res, err = c.CheckValidity(stubView{pending: map[string]float64{"site-1/site_activation": 12}}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Valid || res.EarliestValidTime != 12 {
		t.Fatalf("want invalid with earliest 12, got %+v", res)
	}

	res, err = c.CheckValidity(stubView{}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Valid || !math.IsInf(res.EarliestValidTime, 1) {
		t.Fatalf("want invalid with +Inf earliest, got %+v", res)
	}
	if res.Explanation == "" {
		t.Fatalf("missing explanation")
	}

	other := &domain.Event{Time: 5, Type: domain.EventTransition, EntityID: "patient-1"}
	res, err = c.CheckValidity(stubView{}, other)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Valid {
		t.Fatalf("ungated event type should pass")
	}
}

func TestTemporalPrecedenceOnlyReordersEngineOutput(t *testing.T) {
	trial := coreTrial(t, 10, nil, nil)
	ctx := context.Background()

	baseline, err := sim.New(1, nil).Run(ctx, trial, 10)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	gate, err := core.NewTemporalPrecedence(domain.EventSiteActivation, domain.EventEnrollment)
	if err != nil {
		t.Fatalf("new constraint: %v", err)
	}
	gated, err := sim.New(1, domain.NewConstraintSet(gate)).Run(ctx, trial, 10)
	if err != nil {
		t.Fatalf("gated: %v", err)
	}
	if gated.MeanEnrolled != baseline.MeanEnrolled {
		t.Fatalf("gating changed enrollment totals: %g vs %g", gated.MeanEnrolled, baseline.MeanEnrolled)
	}
}

func TestResourceCapacityDelaysUnderContention(t *testing.T) {
	c := core.NewResourceCapacity()
	act, err := domain.NewActivity(domain.ActivityParams{
		ID:                "monitor-visit",
		RequiredResources: []string{"cra-pool"},
		Duration:          mustDist(dist.NewTriangular(1, 2, 3, nil)),
	})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	pool, err := domain.NewResource(domain.ResourceParams{ID: "cra-pool", Capacity: 1})
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	trial := coreTrial(t, 5, []domain.Activity{act}, []domain.Resource{pool})
	if err := c.Bind(trial); err != nil {
		t.Fatalf("bind: %v", err)
	}

	ev := &domain.Event{Time: 10, Type: domain.EventActivityStart, EntityID: "monitor-visit"}
	res, err := c.CheckFeasibility(stubView{
		usage:   map[string]int{"cra-pool": 1},
		release: map[string]float64{"cra-pool": 16},
	}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Delay != 6 {
		t.Fatalf("delay %g, want 6", res.Delay)
	}

	res, err = c.CheckFeasibility(stubView{usage: map[string]int{"cra-pool": 0}}, ev)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Delay != 0 {
		t.Fatalf("unexpected delay %g with free resource", res.Delay)
	}
}

func TestResourceCapacityFailsBeforeBind(t *testing.T) {
	c := core.NewResourceCapacity()
	ev := &domain.Event{Time: 0, Type: domain.EventActivityStart, EntityID: "monitor-visit"}
	if _, err := c.CheckFeasibility(stubView{}, ev); err == nil {
		t.Fatalf("expected error for unbound constraint")
	}
}

func TestResourceCapacityKeepsActivitiesSequential(t *testing.T) {
	first, err := domain.NewActivity(domain.ActivityParams{
		ID:                "visit-a",
		RequiredResources: []string{"cra-pool"},
		Duration:          mustDist(dist.NewTriangular(4, 5, 6, nil)),
	})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	second, err := domain.NewActivity(domain.ActivityParams{
		ID:                "visit-b",
		RequiredResources: []string{"cra-pool"},
		Duration:          mustDist(dist.NewTriangular(4, 5, 6, nil)),
	})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	pool, err := domain.NewResource(domain.ResourceParams{ID: "cra-pool", Capacity: 1})
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	trial := coreTrial(t, 3, []domain.Activity{first, second}, []domain.Resource{pool})

	res, err := sim.New(4, domain.NewConstraintSet(core.NewResourceCapacity())).
		RunSingle(context.Background(), trial, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	intervals := map[string][2]float64{}
	for _, entry := range res.Timeline {
		switch entry.Type {
		case domain.EventActivityStart:
			iv := intervals[entry.EntityID]
			iv[0] = entry.Time
			intervals[entry.EntityID] = iv
		case domain.EventActivityComplete:
			iv := intervals[entry.EntityID]
			iv[1] = entry.Time
			intervals[entry.EntityID] = iv
		}
	}
	a, b := intervals["visit-a"], intervals["visit-b"]
	if a[1] == 0 || b[1] == 0 {
		t.Fatalf("activities did not both complete: %v %v", a, b)
	}
	if a[0] < b[1] && b[0] < a[1] {
		t.Fatalf("capacity-1 resource allowed overlap: %v and %v", a, b)
	}
}

// completionLag pushes each activity completion past its sampled time
// once, the way a downstream feasibility constraint would. The decision
// is cached on the event so re-evaluation does not stack delays.
type completionLag struct{ by float64 }

func (completionLag) Name() string            { return "completion_lag" }
func (completionLag) Bind(domain.Trial) error { return nil }

func (c completionLag) CheckFeasibility(_ domain.RunView, ev *domain.Event) (domain.FeasibilityResult, error) {
	if ev.Type != domain.EventActivityComplete {
		return domain.FeasibilityResult{Explanation: "not a completion"}, nil
	}
	if _, deferred := ev.Override("lagged"); deferred {
		return domain.FeasibilityResult{Explanation: "already deferred"}, nil
	}
	return domain.FeasibilityResult{
		Delay:       c.by,
		Overrides:   map[string]float64{"lagged": 1},
		Explanation: "completion deferred",
	}, nil
}

func TestResourceStaysHeldThroughDeferredCompletion(t *testing.T) {
	first, err := domain.NewActivity(domain.ActivityParams{
		ID:                "scan-a",
		RequiredResources: []string{"scanner"},
		Duration:          mustDist(dist.NewTriangular(10, 10, 10, nil)),
	})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	second, err := domain.NewActivity(domain.ActivityParams{
		ID:                "scan-b",
		RequiredResources: []string{"scanner"},
		Duration:          mustDist(dist.NewTriangular(10, 10, 10, nil)),
	})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	scanner, err := domain.NewResource(domain.ResourceParams{ID: "scanner", Capacity: 1})
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	trial := coreTrial(t, 1, []domain.Activity{first, second}, []domain.Resource{scanner})

	// Delaying completions must not let the capacity check see a stale
	// release time and hand the unit out twice.
	set := domain.NewConstraintSet(core.NewResourceCapacity(), completionLag{by: 10})
	res, err := sim.New(7, set).RunSingle(context.Background(), trial, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	held := 0
	for _, entry := range res.Timeline {
		switch entry.Type {
		case domain.EventActivityStart:
			held++
			if held > 1 {
				t.Fatalf("capacity-1 resource held twice: %s starts at %.4f before the prior completion", entry.EntityID, entry.Time)
			}
		case domain.EventActivityComplete:
			held--
		}
	}
	var aDone, bStart float64
	for _, entry := range res.Timeline {
		if entry.EntityID == "scan-a" && entry.Type == domain.EventActivityComplete {
			aDone = entry.Time
		}
		if entry.EntityID == "scan-b" && entry.Type == domain.EventActivityStart {
			bStart = entry.Time
		}
	}
	if aDone == 0 || bStart == 0 {
		t.Fatalf("expected both activities in the timeline: %+v", res.Timeline)
	}
	if bStart < aDone {
		t.Fatalf("second activity started at %.4f before the deferred completion at %.4f", bStart, aDone)
	}
}

func TestBudgetThrottlingValidation(t *testing.T) {
	curve := core.LinearResponseCurve(0.25)
	if _, err := core.NewBudgetThrottling(0, 1, curve); err == nil {
		t.Fatalf("zero budget accepted")
	}
	if _, err := core.NewBudgetThrottling(100, 0, curve); err == nil {
		t.Fatalf("zero cost accepted")
	}
	if _, err := core.NewBudgetThrottling(100, 1, nil); err == nil {
		t.Fatalf("nil curve accepted")
	}
}

func TestBudgetThrottlingRejectsMalformedCurveAtBind(t *testing.T) {
	c, err := core.NewBudgetThrottling(100, 1, func(float64) float64 { return math.NaN() })
	if err != nil {
		t.Fatalf("new constraint: %v", err)
	}
	if err := c.Bind(coreTrial(t, 5, nil, nil)); err == nil {
		t.Fatalf("NaN-producing curve accepted at bind")
	}
}

func TestBudgetThrottlingDecisionIsIdempotent(t *testing.T) {
	c, err := core.NewBudgetThrottling(100, 10, core.LinearResponseCurve(0.25))
	if err != nil {
		t.Fatalf("new constraint: %v", err)
	}
	ev := &domain.Event{Time: 3, Type: domain.EventEnrollment, EntityID: "site-1"}
	view := stubView{spent: 95}

	first, err := c.CheckFeasibility(view, ev)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	for k, v := range first.Overrides {
		ev.SetOverride(k, v)
	}
	// The state moved on, but the cached decision must hold.
	second, err := c.CheckFeasibility(stubView{spent: 99}, ev)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if first.Overrides["speed_multiplier"] != second.Overrides["speed_multiplier"] {
		t.Fatalf("throttling re-decided: %g vs %g",
			first.Overrides["speed_multiplier"], second.Overrides["speed_multiplier"])
	}
	if first.Overrides["speed_multiplier"] >= 1 {
		t.Fatalf("near-exhausted budget should throttle, got %g", first.Overrides["speed_multiplier"])
	}
}

func TestBudgetThrottlingSlowsEngine(t *testing.T) {
	trial := coreTrial(t, 20, nil, nil)
	ctx := context.Background()

	baseline, err := sim.New(6, nil).Run(ctx, trial, 20)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	throttle, err := core.NewBudgetThrottling(5, 1, core.LinearResponseCurve(0.2))
	if err != nil {
		t.Fatalf("new constraint: %v", err)
	}
	throttled, err := sim.New(6, domain.NewConstraintSet(throttle)).Run(ctx, trial, 20)
	if err != nil {
		t.Fatalf("throttled: %v", err)
	}
	if throttled.CompletionP50 <= baseline.CompletionP50 {
		t.Fatalf("throttling did not slow completion: %g vs %g",
			throttled.CompletionP50, baseline.CompletionP50)
	}
}
