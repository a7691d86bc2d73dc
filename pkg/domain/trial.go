package domain

import (
	"encoding/json"
	"fmt"
)

// TrialParams are the construction inputs for a Trial.
type TrialParams struct {
	ID               string
	TargetEnrollment int
	Sites            []Site
	Flow             PatientFlow
	Activities       []Activity
	Resources        []Resource
}

// Trial is the top-level aggregate: a target enrollment, an ordered site
// list, one patient flow and optional activity and resource lists. Every
// cross-entity reference is resolved at construction.
type Trial struct {
	id               string
	targetEnrollment int
	sites            []Site
	flow             PatientFlow
	activities       []Activity
	resources        []Resource
}

// NewTrial validates the aggregate: positive target enrollment, unique
// entity ids, resolvable activity dependencies and resource references and
// an acyclic dependency graph.
func NewTrial(p TrialParams) (Trial, error) {
	if p.TargetEnrollment <= 0 {
		return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "target_enrollment", Reason: fmt.Sprintf("must be positive, got %d", p.TargetEnrollment)}
	}
	if len(p.Sites) == 0 {
		return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "sites", Reason: "at least one site required"}
	}
	if len(p.Flow.states) == 0 {
		return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "patient_flow", Reason: "flow required; construct with NewPatientFlow"}
	}

	siteIDs := make(map[string]struct{}, len(p.Sites))
	for _, s := range p.Sites {
		if _, dup := siteIDs[s.id]; dup {
			return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "sites", Reason: fmt.Sprintf("duplicate site id %q", s.id)}
		}
		siteIDs[s.id] = struct{}{}
	}

	activityIDs := make(map[string]struct{}, len(p.Activities))
	for _, a := range p.Activities {
		if _, dup := activityIDs[a.id]; dup {
			return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "activities", Reason: fmt.Sprintf("duplicate activity id %q", a.id)}
		}
		activityIDs[a.id] = struct{}{}
	}
	resourceIDs := make(map[string]struct{}, len(p.Resources))
	for _, r := range p.Resources {
		if _, dup := resourceIDs[r.id]; dup {
			return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "resources", Reason: fmt.Sprintf("duplicate resource id %q", r.id)}
		}
		resourceIDs[r.id] = struct{}{}
	}

	for _, a := range p.Activities {
		for _, dep := range a.dependencies {
			if _, ok := activityIDs[dep]; !ok {
				return Trial{}, UnknownReferenceError{Kind: "activity", ID: dep, ReferencedBy: fmt.Sprintf("activity %s", a.id)}
			}
		}
		for _, res := range a.requiredResources {
			if _, ok := resourceIDs[res]; !ok {
				return Trial{}, UnknownReferenceError{Kind: "resource", ID: res, ReferencedBy: fmt.Sprintf("activity %s", a.id)}
			}
		}
	}
	if cycle := dependencyCycle(p.Activities); cycle != "" {
		return Trial{}, ValidationError{Entity: "trial", ID: p.ID, Field: "activities", Reason: "dependency cycle involving activity " + cycle}
	}

	return Trial{
		id:               p.ID,
		targetEnrollment: p.TargetEnrollment,
		sites:            append([]Site(nil), p.Sites...),
		flow:             p.Flow,
		activities:       append([]Activity(nil), p.Activities...),
		resources:        append([]Resource(nil), p.Resources...),
	}, nil
}

// dependencyCycle returns the id of an activity on a dependency cycle, or
// empty when the graph is acyclic.
func dependencyCycle(activities []Activity) string {
	deps := make(map[string][]string, len(activities))
	for _, a := range activities {
		deps[a.id] = a.dependencies
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(deps))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for _, a := range activities {
		if visit(a.id) {
			return a.id
		}
	}
	return ""
}

// ID returns the trial identifier (may be empty).
func (t Trial) ID() string { return t.id }

// TargetEnrollment returns the enrollment goal.
func (t Trial) TargetEnrollment() int { return t.targetEnrollment }

// Sites returns a copy of the ordered site list.
func (t Trial) Sites() []Site { return append([]Site(nil), t.sites...) }

// Flow returns the patient state machine.
func (t Trial) Flow() PatientFlow { return t.flow }

// Activities returns a copy of the activity list.
func (t Trial) Activities() []Activity { return append([]Activity(nil), t.activities...) }

// Resources returns a copy of the resource list.
func (t Trial) Resources() []Resource { return append([]Resource(nil), t.resources...) }

// Site returns the site with the given id.
func (t Trial) Site(id string) (Site, bool) {
	for _, s := range t.sites {
		if s.id == id {
			return s, true
		}
	}
	return Site{}, false
}

// Activity returns the activity with the given id.
func (t Trial) Activity(id string) (Activity, bool) {
	for _, a := range t.activities {
		if a.id == id {
			return a, true
		}
	}
	return Activity{}, false
}

// Resource returns the resource with the given id.
func (t Trial) Resource(id string) (Resource, bool) {
	for _, r := range t.resources {
		if r.id == id {
			return r, true
		}
	}
	return Resource{}, false
}

type trialDoc struct {
	ID               string        `json:"id,omitempty"`
	TargetEnrollment int           `json:"target_enrollment"`
	Sites            []Site        `json:"sites"`
	PatientFlow      PatientFlow   `json:"patient_flow"`
	Activities       []Activity    `json:"activities,omitempty"`
	Resources        []Resource    `json:"resources,omitempty"`
}

// MarshalJSON serializes the trial with all nested entities.
func (t Trial) MarshalJSON() ([]byte, error) {
	return json.Marshal(trialDoc{
		ID:               t.id,
		TargetEnrollment: t.targetEnrollment,
		Sites:            t.sites,
		PatientFlow:      t.flow,
		Activities:       t.activities,
		Resources:        t.resources,
	})
}

// ToMap returns the JSON-safe generic form of the trial.
func (t Trial) ToMap() (map[string]any, error) { return entityToMap(t) }

type trialDecodeDoc struct {
	ID               string        `json:"id"`
	TargetEnrollment int           `json:"target_enrollment"`
	Sites            []siteDoc     `json:"sites"`
	PatientFlow      flowDoc       `json:"patient_flow"`
	Activities       []activityDoc `json:"activities"`
	Resources        []resourceDoc `json:"resources"`
}

// TrialFromJSON reconstructs a fully validated Trial from its JSON form.
func TrialFromJSON(data []byte) (Trial, error) {
	var doc trialDecodeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Trial{}, fmt.Errorf("decode trial: %w", err)
	}
	sites := make([]Site, 0, len(doc.Sites))
	for _, sd := range doc.Sites {
		s, err := siteFromDoc(sd)
		if err != nil {
			return Trial{}, err
		}
		sites = append(sites, s)
	}
	flow, err := flowFromDoc(doc.PatientFlow)
	if err != nil {
		return Trial{}, err
	}
	activities := make([]Activity, 0, len(doc.Activities))
	for _, ad := range doc.Activities {
		a, err := activityFromDoc(ad)
		if err != nil {
			return Trial{}, err
		}
		activities = append(activities, a)
	}
	resources := make([]Resource, 0, len(doc.Resources))
	for _, rd := range doc.Resources {
		r, err := resourceFromDoc(rd)
		if err != nil {
			return Trial{}, err
		}
		resources = append(resources, r)
	}
	return NewTrial(TrialParams{
		ID:               doc.ID,
		TargetEnrollment: doc.TargetEnrollment,
		Sites:            sites,
		Flow:             flow,
		Activities:       activities,
		Resources:        resources,
	})
}
