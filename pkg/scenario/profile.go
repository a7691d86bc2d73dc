// Package scenario implements what-if overrides on trial specifications: a
// Profile names explicit field-level changes and Apply produces a modified
// trial from a base trial without mutating it. Profiles are plain,
// diffable documents (JSON or YAML) suited to version control.
package scenario

import "fmt"

// OverrideType enumerates the closed set of supported override operations.
type OverrideType string

// Supported override operations.
const (
	// DistributionScale multiplies every numeric shape parameter of the
	// targeted distribution by "scale_factor".
	DistributionScale OverrideType = "distribution_scale"
	// DistributionShift adds "offset" to every numeric shape parameter.
	DistributionShift OverrideType = "distribution_shift"
	// DistributionParam replaces the single parameter named "name" with
	// "value", leaving the others untouched.
	DistributionParam OverrideType = "distribution_param"
	// DistributionReplace substitutes the whole distribution with the
	// spec under "distribution".
	DistributionReplace OverrideType = "distribution_replace"
	// DirectValue replaces a deterministic (non-distribution) field with
	// "value".
	DirectValue OverrideType = "direct_value"
)

// Override is one field-level change: the operation, its parameters and a
// human reason recorded for audit.
type Override struct {
	Type       OverrideType   `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
	Reason     string         `json:"reason" yaml:"reason"`
}

// FieldOverrides maps entity field names to their overrides.
type FieldOverrides map[string]Override

// Profile is an immutable override document. Entity override maps are
// keyed by entity id; flow overrides by "from->to" transition key; trial
// overrides by top-level field name. Only fields explicitly named here are
// changed when the profile is applied.
type Profile struct {
	ScenarioID        string                    `json:"scenario_id" yaml:"scenario_id"`
	Description       string                    `json:"description,omitempty" yaml:"description,omitempty"`
	Version           string                    `json:"version,omitempty" yaml:"version,omitempty"`
	SiteOverrides     map[string]FieldOverrides `json:"site_overrides,omitempty" yaml:"site_overrides,omitempty"`
	ActivityOverrides map[string]FieldOverrides `json:"activity_overrides,omitempty" yaml:"activity_overrides,omitempty"`
	ResourceOverrides map[string]FieldOverrides `json:"resource_overrides,omitempty" yaml:"resource_overrides,omitempty"`
	FlowOverrides     map[string]Override       `json:"flow_overrides,omitempty" yaml:"flow_overrides,omitempty"`
	TrialOverrides    map[string]Override       `json:"trial_overrides,omitempty" yaml:"trial_overrides,omitempty"`
}

// Validate checks structural well-formedness: a scenario id, known
// override types and non-empty reasons. Entity ids are resolved against a
// concrete trial at Apply time.
func (p Profile) Validate() error {
	if p.ScenarioID == "" {
		return fmt.Errorf("scenario profile requires a scenario_id")
	}
	check := func(where string, ov Override) error {
		switch ov.Type {
		case DistributionScale, DistributionShift, DistributionParam, DistributionReplace, DirectValue:
		default:
			return fmt.Errorf("scenario %s: %s: unknown override type %q", p.ScenarioID, where, ov.Type)
		}
		if ov.Reason == "" {
			return fmt.Errorf("scenario %s: %s: override requires a reason", p.ScenarioID, where)
		}
		return nil
	}
	for id, fields := range p.SiteOverrides {
		for field, ov := range fields {
			if err := check(fmt.Sprintf("site %s field %s", id, field), ov); err != nil {
				return err
			}
		}
	}
	for id, fields := range p.ActivityOverrides {
		for field, ov := range fields {
			if err := check(fmt.Sprintf("activity %s field %s", id, field), ov); err != nil {
				return err
			}
		}
	}
	for id, fields := range p.ResourceOverrides {
		for field, ov := range fields {
			if err := check(fmt.Sprintf("resource %s field %s", id, field), ov); err != nil {
				return err
			}
		}
	}
	for key, ov := range p.FlowOverrides {
		if err := check(fmt.Sprintf("flow transition %s", key), ov); err != nil {
			return err
		}
	}
	for field, ov := range p.TrialOverrides {
		if err := check(fmt.Sprintf("trial field %s", field), ov); err != nil {
			return err
		}
	}
	return nil
}
