package scenario_test

import (
	"os"
	"path/filepath"
	"testing"

	"trialcore/pkg/scenario"
)

const profileYAML = `scenario_id: pessimistic-enrollment
description: Slower site activation across the board.
version: 2
site_overrides:
  site-1:
    activation_time:
      type: distribution_scale
      parameters:
        scale_factor: 1.2
      reason: regulatory delays observed in region
trial_overrides:
  target_enrollment:
    type: direct_value
    parameters:
      value: 120
    reason: expanded cohort per amendment 3
`

const profileJSON = `{
  "scenario_id": "pessimistic-enrollment",
  "version": 2,
  "flow_overrides": {
    "screening->enrolled": {
      "type": "distribution_shift",
      "parameters": {"offset": 5},
      "reason": "slower screening turnaround"
    }
  }
}`

func TestParseYAMLProfile(t *testing.T) {
	p, err := scenario.ParseYAML([]byte(profileYAML))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if p.ScenarioID != "pessimistic-enrollment" {
		t.Fatalf("scenario id %q", p.ScenarioID)
	}
	if p.Version != 2 {
		t.Fatalf("version %d, want 2", p.Version)
	}
	ov, ok := p.SiteOverrides["site-1"]["activation_time"]
	if !ok {
		t.Fatalf("missing site override")
	}
	if ov.Type != scenario.DistributionScale {
		t.Fatalf("override type %q", ov.Type)
	}
	if ov.Parameters["scale_factor"] != 1.2 {
		t.Fatalf("scale_factor %v", ov.Parameters["scale_factor"])
	}
	if p.TrialOverrides["target_enrollment"].Type != scenario.DirectValue {
		t.Fatalf("trial override type %q", p.TrialOverrides["target_enrollment"].Type)
	}
}

func TestParseJSONProfile(t *testing.T) {
	p, err := scenario.ParseJSON([]byte(profileJSON))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	ov, ok := p.FlowOverrides["screening->enrolled"]
	if !ok {
		t.Fatalf("missing flow override")
	}
	if ov.Type != scenario.DistributionShift {
		t.Fatalf("override type %q", ov.Type)
	}
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing scenario id", `{"version": 1}`},
		{"unknown override type", `{"scenario_id": "s", "trial_overrides": {"target_enrollment": {"type": "multiply", "parameters": {"value": 2}, "reason": "r"}}}`},
		{"missing reason", `{"scenario_id": "s", "trial_overrides": {"target_enrollment": {"type": "direct_value", "parameters": {"value": 2}}}}`},
		{"malformed json", `{"scenario_id": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := scenario.ParseJSON([]byte(tc.data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadProfileDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(yamlPath, []byte(profileYAML), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	jsonPath := filepath.Join(dir, "profile.json")
	if err := os.WriteFile(jsonPath, []byte(profileJSON), 0o600); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if _, err := scenario.LoadProfile(yamlPath); err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if _, err := scenario.LoadProfile(jsonPath); err != nil {
		t.Fatalf("load json: %v", err)
	}
	if _, err := scenario.LoadProfile(filepath.Join(dir, "profile.toml")); err == nil {
		t.Fatalf("expected unsupported-extension error")
	}
}
