package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"trialcore/pkg/dist"
)

// ActivityParams are the construction inputs for an Activity.
type ActivityParams struct {
	ID string
	// Dependencies lists activity ids that must complete first. Existence
	// is cross-checked at Trial construction so activities can be built
	// independently.
	Dependencies      []string
	RequiredResources []string
	Duration          dist.Distribution
}

// Activity is a unit of trial work with a stochastic duration, optional
// ordering dependencies and optional resource requirements.
type Activity struct {
	id                string
	dependencies      []string
	requiredResources []string
	duration          dist.Distribution
}

// NewActivity validates and constructs an Activity.
func NewActivity(p ActivityParams) (Activity, error) {
	if p.ID == "" {
		return Activity{}, ValidationError{Entity: "activity", Field: "id", Reason: "must be non-empty"}
	}
	if p.Duration == nil {
		return Activity{}, ValidationError{Entity: "activity", ID: p.ID, Field: "duration", Reason: "distribution required"}
	}
	deps, err := idSet("activity", p.ID, "dependencies", p.Dependencies)
	if err != nil {
		return Activity{}, err
	}
	for _, dep := range deps {
		if dep == p.ID {
			return Activity{}, ValidationError{Entity: "activity", ID: p.ID, Field: "dependencies", Reason: "activity cannot depend on itself"}
		}
	}
	res, err := idSet("activity", p.ID, "required_resources", p.RequiredResources)
	if err != nil {
		return Activity{}, err
	}
	return Activity{id: p.ID, dependencies: deps, requiredResources: res, duration: p.Duration}, nil
}

// ID returns the activity identifier.
func (a Activity) ID() string { return a.id }

// Dependencies returns a copy of the sorted dependency id set.
func (a Activity) Dependencies() []string { return append([]string(nil), a.dependencies...) }

// RequiredResources returns a copy of the sorted required resource id set.
func (a Activity) RequiredResources() []string { return append([]string(nil), a.requiredResources...) }

// Duration returns the duration distribution.
func (a Activity) Duration() dist.Distribution { return a.duration }

type activityDoc struct {
	ID                string    `json:"id"`
	Dependencies      []string  `json:"dependencies,omitempty"`
	RequiredResources []string  `json:"required_resources,omitempty"`
	Duration          dist.Spec `json:"duration"`
}

// MarshalJSON serializes the activity with its nested duration spec.
func (a Activity) MarshalJSON() ([]byte, error) {
	return json.Marshal(activityDoc{
		ID:                a.id,
		Dependencies:      a.dependencies,
		RequiredResources: a.requiredResources,
		Duration:          a.duration.Spec(),
	})
}

// ToMap returns the JSON-safe generic form of the activity.
func (a Activity) ToMap() (map[string]any, error) { return entityToMap(a) }

func activityFromDoc(doc activityDoc) (Activity, error) {
	duration, err := dist.FromSpec(doc.Duration)
	if err != nil {
		return Activity{}, fmt.Errorf("activity %s duration: %w", doc.ID, err)
	}
	return NewActivity(ActivityParams{
		ID:                doc.ID,
		Dependencies:      doc.Dependencies,
		RequiredResources: doc.RequiredResources,
		Duration:          duration,
	})
}

// idSet normalizes an id list into a sorted, duplicate-free set.
func idSet(entity, id, field string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v == "" {
			return nil, ValidationError{Entity: entity, ID: id, Field: field, Reason: "ids must be non-empty"}
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
