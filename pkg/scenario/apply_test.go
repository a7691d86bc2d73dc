package scenario_test

import (
	"encoding/json"
	"testing"

	"trialcore/pkg/dist"
	"trialcore/pkg/domain"
	"trialcore/pkg/scenario"
)

func mustDist(d dist.Distribution, err error) dist.Distribution {
	if err != nil {
		panic(err)
	}
	return d
}

func baseTrial(t *testing.T) domain.Trial {
	t.Helper()
	site, err := domain.NewSite(domain.SiteParams{
		ID:             "site-1",
		MaxCapacity:    80,
		ActivationTime: mustDist(dist.NewTriangular(30, 45, 90, nil)),
		EnrollmentRate: mustDist(dist.NewGamma(2, 0.5, nil)),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}
	flow, err := domain.NewPatientFlow(domain.PatientFlowParams{
		States:         []string{"screening", "completed"},
		InitialState:   "screening",
		TerminalStates: []string{"completed"},
		TransitionTimes: map[domain.Transition]dist.Distribution{
			{From: "screening", To: "completed"}: mustDist(dist.NewLogNormal(30, 0.25, nil)),
		},
	})
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	resource, err := domain.NewResource(domain.ResourceParams{ID: "cra-pool", Capacity: 3})
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	tr, err := domain.NewTrial(domain.TrialParams{
		ID:               "base",
		TargetEnrollment: 50,
		Sites:            []domain.Site{site},
		Flow:             flow,
		Resources:        []domain.Resource{resource},
	})
	if err != nil {
		t.Fatalf("new trial: %v", err)
	}
	return tr
}

func TestApplyScaleOverride(t *testing.T) {
	base := baseTrial(t)
	p := scenario.Profile{
		ScenarioID: "slow-activation",
		SiteOverrides: map[string]scenario.FieldOverrides{
			"site-1": {
				"activation_time": {
					Type:       scenario.DistributionScale,
					Parameters: map[string]any{"scale_factor": 1.2},
					Reason:     "regulatory delays observed in region",
				},
			},
		},
	}
	modified, err := scenario.Apply(base, p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	spec := modified.Sites()[0].ActivationTime().Spec()
	if got := spec.Parameters["mode"]; got != 54 {
		t.Fatalf("scaled mode %g, want 54 (45 * 1.2)", got)
	}
	if got := spec.Parameters["low"]; got != 36 {
		t.Fatalf("scaled low %g, want 36", got)
	}
	if got := spec.Parameters["high"]; got != 108 {
		t.Fatalf("scaled high %g, want 108", got)
	}
	// Untouched fields stay untouched.
	if modified.Sites()[0].EnrollmentRate().Spec().Parameters["shape"] != 2 {
		t.Fatalf("enrollment_rate changed by unrelated override")
	}
}

func TestApplyNeverMutatesBase(t *testing.T) {
	base := baseTrial(t)
	before, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("marshal base: %v", err)
	}
	p := scenario.Profile{
		ScenarioID: "s",
		SiteOverrides: map[string]scenario.FieldOverrides{
			"site-1": {
				"activation_time": {Type: scenario.DistributionShift, Parameters: map[string]any{"offset": 10.0}, Reason: "pessimistic"},
				"max_capacity":    {Type: scenario.DirectValue, Parameters: map[string]any{"value": 40}, Reason: "staffing cut"},
			},
		},
		TrialOverrides: map[string]scenario.Override{
			"target_enrollment": {Type: scenario.DirectValue, Parameters: map[string]any{"value": 100}, Reason: "expanded cohort"},
		},
	}
	modified, err := scenario.Apply(base, p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	after, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("marshal base again: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("base trial serialized form changed across Apply")
	}
	if modified.TargetEnrollment() != 100 {
		t.Fatalf("target enrollment %d, want 100", modified.TargetEnrollment())
	}
	if capage, ok := modified.Sites()[0].MaxCapacity(); !ok || capage != 40 {
		t.Fatalf("max capacity %d, want 40", capage)
	}
	if got := modified.Sites()[0].ActivationTime().Spec().Parameters["mode"]; got != 55 {
		t.Fatalf("shifted mode %g, want 55", got)
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	base := baseTrial(t)
	p := scenario.Profile{
		ScenarioID: "s",
		FlowOverrides: map[string]scenario.Override{
			"screening->completed": {
				Type:       scenario.DistributionParam,
				Parameters: map[string]any{"name": "cv", "value": 0.5},
				Reason:     "higher variability in follow-up",
			},
		},
	}
	first, err := scenario.Apply(base, p)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := scenario.Apply(base, p)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("repeated Apply produced different trials")
	}
	d, ok := first.Flow().TransitionTime(domain.Transition{From: "screening", To: "completed"})
	if !ok {
		t.Fatalf("transition missing after apply")
	}
	if d.Spec().Parameters["cv"] != 0.5 {
		t.Fatalf("cv %g, want 0.5", d.Spec().Parameters["cv"])
	}
	if d.Spec().Parameters["mean"] != 30 {
		t.Fatalf("mean changed by single-parameter override")
	}
}

func TestApplyDistributionReplace(t *testing.T) {
	base := baseTrial(t)
	p := scenario.Profile{
		ScenarioID: "replace",
		SiteOverrides: map[string]scenario.FieldOverrides{
			"site-1": {
				"enrollment_rate": {
					Type: scenario.DistributionReplace,
					Parameters: map[string]any{
						"distribution": map[string]any{
							"type":       "lognormal",
							"parameters": map[string]any{"mean": 0.8, "cv": 0.4},
						},
					},
					Reason: "switch to observed-rate model",
				},
			},
		},
	}
	modified, err := scenario.Apply(base, p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if modified.Sites()[0].EnrollmentRate().Kind() != dist.KindLogNormal {
		t.Fatalf("replacement did not take effect")
	}
}

func TestApplyErrors(t *testing.T) {
	base := baseTrial(t)
	cases := []struct {
		name string
		p    scenario.Profile
	}{
		{"unknown site", scenario.Profile{
			ScenarioID: "s",
			SiteOverrides: map[string]scenario.FieldOverrides{
				"ghost": {"activation_time": {Type: scenario.DistributionScale, Parameters: map[string]any{"scale_factor": 2.0}, Reason: "r"}},
			},
		}},
		{"unknown transition", scenario.Profile{
			ScenarioID: "s",
			FlowOverrides: map[string]scenario.Override{
				"a->b": {Type: scenario.DistributionScale, Parameters: map[string]any{"scale_factor": 2.0}, Reason: "r"},
			},
		}},
		{"unknown parameter name", scenario.Profile{
			ScenarioID: "s",
			SiteOverrides: map[string]scenario.FieldOverrides{
				"site-1": {"activation_time": {Type: scenario.DistributionParam, Parameters: map[string]any{"name": "sigma", "value": 1.0}, Reason: "r"}},
			},
		}},
		{"direct value on distribution field", scenario.Profile{
			ScenarioID: "s",
			SiteOverrides: map[string]scenario.FieldOverrides{
				"site-1": {"activation_time": {Type: scenario.DirectValue, Parameters: map[string]any{"value": 10}, Reason: "r"}},
			},
		}},
		{"missing reason", scenario.Profile{
			ScenarioID: "s",
			SiteOverrides: map[string]scenario.FieldOverrides{
				"site-1": {"activation_time": {Type: scenario.DistributionScale, Parameters: map[string]any{"scale_factor": 2.0}}},
			},
		}},
		{"scale to invalid parameters", scenario.Profile{
			ScenarioID: "s",
			SiteOverrides: map[string]scenario.FieldOverrides{
				"site-1": {"activation_time": {Type: scenario.DistributionScale, Parameters: map[string]any{"scale_factor": -1.0}, Reason: "r"}},
			},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := scenario.Apply(base, tc.p); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSameProfileAcrossCalibrations(t *testing.T) {
	// The identical relative transformation must land on different bases.
	preCal := baseTrial(t)
	site, err := domain.NewSite(domain.SiteParams{
		ID:             "site-1",
		ActivationTime: mustDist(dist.NewTriangular(20, 30, 50, nil)),
		EnrollmentRate: mustDist(dist.NewGamma(2, 0.5, nil)),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}
	postCal, err := domain.NewTrial(domain.TrialParams{
		ID:               "post",
		TargetEnrollment: 50,
		Sites:            []domain.Site{site},
		Flow:             preCal.Flow(),
	})
	if err != nil {
		t.Fatalf("new trial: %v", err)
	}
	p := scenario.Profile{
		ScenarioID: "pessimistic",
		SiteOverrides: map[string]scenario.FieldOverrides{
			"site-1": {"activation_time": {Type: scenario.DistributionScale, Parameters: map[string]any{"scale_factor": 1.5}, Reason: "r"}},
		},
	}
	modPre, err := scenario.Apply(preCal, p)
	if err != nil {
		t.Fatalf("apply pre: %v", err)
	}
	modPost, err := scenario.Apply(postCal, p)
	if err != nil {
		t.Fatalf("apply post: %v", err)
	}
	if got := modPre.Sites()[0].ActivationTime().Spec().Parameters["mode"]; got != 67.5 {
		t.Fatalf("pre-calibration mode %g, want 67.5", got)
	}
	if got := modPost.Sites()[0].ActivationTime().Spec().Parameters["mode"]; got != 45 {
		t.Fatalf("post-calibration mode %g, want 45", got)
	}
}
