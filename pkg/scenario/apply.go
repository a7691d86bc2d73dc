package scenario

import (
	"encoding/json"
	"fmt"

	"trialcore/pkg/domain"
)

// Apply produces a modified trial from a base trial and a profile. It is a
// pure function: the base trial is never mutated, and applying the same
// profile to the same base always yields a structurally equal result. The
// transformation operates on the trial's serialized form and reconstructs
// through the validating constructors, so an override can never produce an
// invalid trial silently. Because overrides are relative (scale, shift),
// the same profile applied to two different base trials applies the
// identical relative transformation to each.
func Apply(base domain.Trial, p Profile) (domain.Trial, error) {
	if err := p.Validate(); err != nil {
		return domain.Trial{}, err
	}
	doc, err := base.ToMap()
	if err != nil {
		return domain.Trial{}, fmt.Errorf("scenario %s: serialize base trial: %w", p.ScenarioID, err)
	}

	for field, ov := range p.TrialOverrides {
		if err := applyDirectOnly(doc, field, ov, fmt.Sprintf("trial field %s", field)); err != nil {
			return domain.Trial{}, prefix(p, err)
		}
	}
	if err := applyEntityOverrides(doc, "sites", p.SiteOverrides); err != nil {
		return domain.Trial{}, prefix(p, err)
	}
	if err := applyEntityOverrides(doc, "activities", p.ActivityOverrides); err != nil {
		return domain.Trial{}, prefix(p, err)
	}
	if err := applyEntityOverrides(doc, "resources", p.ResourceOverrides); err != nil {
		return domain.Trial{}, prefix(p, err)
	}
	if err := applyFlowOverrides(doc, p.FlowOverrides); err != nil {
		return domain.Trial{}, prefix(p, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("scenario %s: reserialize trial: %w", p.ScenarioID, err)
	}
	modified, err := domain.TrialFromJSON(data)
	if err != nil {
		return domain.Trial{}, fmt.Errorf("scenario %s produced an invalid trial: %w", p.ScenarioID, err)
	}
	return modified, nil
}

func prefix(p Profile, err error) error {
	return fmt.Errorf("scenario %s: %w", p.ScenarioID, err)
}

// applyEntityOverrides patches entries of a top-level entity list keyed by
// id. Referencing an id absent from the trial is an error, never a no-op.
func applyEntityOverrides(doc map[string]any, listKey string, overrides map[string]FieldOverrides) error {
	if len(overrides) == 0 {
		return nil
	}
	list, _ := doc[listKey].([]any)
	byID := make(map[string]map[string]any, len(list))
	for _, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := entry["id"].(string); ok {
			byID[id] = entry
		}
	}
	for id, fields := range overrides {
		entry, ok := byID[id]
		if !ok {
			return fmt.Errorf("%s override references unknown id %q", listKey, id)
		}
		for field, ov := range fields {
			if err := applyFieldOverride(entry, field, ov, fmt.Sprintf("%s %s field %s", listKey, id, field)); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyFlowOverrides patches transition time distributions keyed by
// "from->to".
func applyFlowOverrides(doc map[string]any, overrides map[string]Override) error {
	if len(overrides) == 0 {
		return nil
	}
	flow, ok := doc["patient_flow"].(map[string]any)
	if !ok {
		return fmt.Errorf("flow override: trial has no patient_flow")
	}
	times, ok := flow["transition_times"].(map[string]any)
	if !ok {
		return fmt.Errorf("flow override: trial has no transition_times")
	}
	for key, ov := range overrides {
		raw, ok := times[key]
		if !ok {
			return fmt.Errorf("flow override references unknown transition %q", key)
		}
		spec, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("flow transition %s is not a distribution", key)
		}
		patched, err := applyDistributionOverride(spec, ov, fmt.Sprintf("flow transition %s", key))
		if err != nil {
			return err
		}
		times[key] = patched
	}
	return nil
}

// applyFieldOverride dispatches one override against one entity field.
func applyFieldOverride(entry map[string]any, field string, ov Override, where string) error {
	if ov.Type == DirectValue {
		return applyDirectOnly(entry, field, ov, where)
	}
	raw, ok := entry[field]
	if !ok {
		return fmt.Errorf("%s: field not present on entity", where)
	}
	spec, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: %s override targets a non-distribution field", where, ov.Type)
	}
	patched, err := applyDistributionOverride(spec, ov, where)
	if err != nil {
		return err
	}
	entry[field] = patched
	return nil
}

func applyDirectOnly(entry map[string]any, field string, ov Override, where string) error {
	if ov.Type != DirectValue {
		return fmt.Errorf("%s: %s override not applicable at this level", where, ov.Type)
	}
	value, ok := ov.Parameters["value"]
	if !ok {
		return fmt.Errorf("%s: direct_value override requires a \"value\" parameter", where)
	}
	if existing, present := entry[field]; present {
		if _, isDist := existing.(map[string]any); isDist {
			return fmt.Errorf("%s: direct_value override targets a distribution field", where)
		}
	}
	entry[field] = value
	return nil
}

// applyDistributionOverride patches one serialized distribution spec and
// returns the new spec map. The original map is never modified in place so
// a failed apply leaves no partial state.
func applyDistributionOverride(spec map[string]any, ov Override, where string) (map[string]any, error) {
	switch ov.Type {
	case DistributionReplace:
		replacement, ok := ov.Parameters["distribution"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: distribution_replace requires a \"distribution\" spec", where)
		}
		return cloneMap(replacement), nil
	case DistributionScale:
		factor, err := numberParam(ov, "scale_factor", where)
		if err != nil {
			return nil, err
		}
		return patchParameters(spec, where, func(params map[string]any) error {
			for k, v := range params {
				n, ok := asNumber(v)
				if !ok {
					return fmt.Errorf("%s: parameter %s is not numeric", where, k)
				}
				params[k] = n * factor
			}
			return nil
		})
	case DistributionShift:
		offset, err := numberParam(ov, "offset", where)
		if err != nil {
			return nil, err
		}
		return patchParameters(spec, where, func(params map[string]any) error {
			for k, v := range params {
				n, ok := asNumber(v)
				if !ok {
					return fmt.Errorf("%s: parameter %s is not numeric", where, k)
				}
				params[k] = n + offset
			}
			return nil
		})
	case DistributionParam:
		name, ok := ov.Parameters["name"].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: distribution_param requires a \"name\" parameter", where)
		}
		value, err := numberParam(ov, "value", where)
		if err != nil {
			return nil, err
		}
		return patchParameters(spec, where, func(params map[string]any) error {
			if _, ok := params[name]; !ok {
				return fmt.Errorf("%s: distribution has no parameter %q", where, name)
			}
			params[name] = value
			return nil
		})
	default:
		return nil, fmt.Errorf("%s: %s override not applicable to a distribution", where, ov.Type)
	}
}

func patchParameters(spec map[string]any, where string, patch func(map[string]any) error) (map[string]any, error) {
	out := cloneMap(spec)
	params, ok := out["parameters"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: distribution spec has no parameters", where)
	}
	cloned := cloneMap(params)
	if err := patch(cloned); err != nil {
		return nil, err
	}
	out["parameters"] = cloned
	return out, nil
}

func numberParam(ov Override, name, where string) (float64, error) {
	v, ok := ov.Parameters[name]
	if !ok {
		return 0, fmt.Errorf("%s: %s override requires a %q parameter", where, ov.Type, name)
	}
	n, ok := asNumber(v)
	if !ok {
		return 0, fmt.Errorf("%s: parameter %q must be numeric", where, name)
	}
	return n, nil
}

// asNumber accepts the numeric types produced by JSON and YAML decoding.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
