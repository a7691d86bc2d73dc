// Package domain defines the immutable trial specification entities (Site,
// Activity, Resource, PatientFlow, Trial), the runtime Event record and the
// constraint evaluation primitives. Entities are pure data: they reference
// distributions but never sample them, expose no mutation and cache no
// derived values. Every constructor validates its inputs; an invalid
// entity cannot exist.
package domain

import (
	"encoding/json"
	"fmt"

	"trialcore/pkg/dist"
)

// SiteParams are the construction inputs for a Site.
type SiteParams struct {
	ID string
	// MaxCapacity caps total enrollment at the site; 0 means uncapped.
	MaxCapacity    int
	ActivationTime dist.Distribution
	EnrollmentRate dist.Distribution
}

// Site is an enrollment location with a stochastic activation time and
// enrollment rate (patients per day).
type Site struct {
	id             string
	maxCapacity    int
	activationTime dist.Distribution
	enrollmentRate dist.Distribution
}

// NewSite validates and constructs a Site.
func NewSite(p SiteParams) (Site, error) {
	if p.ID == "" {
		return Site{}, ValidationError{Entity: "site", Field: "id", Reason: "must be non-empty"}
	}
	if p.MaxCapacity < 0 {
		return Site{}, ValidationError{Entity: "site", ID: p.ID, Field: "max_capacity", Reason: fmt.Sprintf("must be positive when set, got %d", p.MaxCapacity)}
	}
	if p.ActivationTime == nil {
		return Site{}, ValidationError{Entity: "site", ID: p.ID, Field: "activation_time", Reason: "distribution required"}
	}
	if p.EnrollmentRate == nil {
		return Site{}, ValidationError{Entity: "site", ID: p.ID, Field: "enrollment_rate", Reason: "distribution required"}
	}
	return Site{id: p.ID, maxCapacity: p.MaxCapacity, activationTime: p.ActivationTime, enrollmentRate: p.EnrollmentRate}, nil
}

// ID returns the site identifier.
func (s Site) ID() string { return s.id }

// MaxCapacity returns the enrollment cap and whether one is set.
func (s Site) MaxCapacity() (int, bool) { return s.maxCapacity, s.maxCapacity > 0 }

// ActivationTime returns the activation time distribution.
func (s Site) ActivationTime() dist.Distribution { return s.activationTime }

// EnrollmentRate returns the enrollment rate distribution.
func (s Site) EnrollmentRate() dist.Distribution { return s.enrollmentRate }

type siteDoc struct {
	ID             string    `json:"id"`
	MaxCapacity    int       `json:"max_capacity,omitempty"`
	ActivationTime dist.Spec `json:"activation_time"`
	EnrollmentRate dist.Spec `json:"enrollment_rate"`
}

// MarshalJSON serializes the site with nested distribution specs.
func (s Site) MarshalJSON() ([]byte, error) {
	return json.Marshal(siteDoc{
		ID:             s.id,
		MaxCapacity:    s.maxCapacity,
		ActivationTime: s.activationTime.Spec(),
		EnrollmentRate: s.enrollmentRate.Spec(),
	})
}

// ToMap returns the JSON-safe generic form of the site.
func (s Site) ToMap() (map[string]any, error) { return entityToMap(s) }

func siteFromDoc(doc siteDoc) (Site, error) {
	activation, err := dist.FromSpec(doc.ActivationTime)
	if err != nil {
		return Site{}, fmt.Errorf("site %s activation_time: %w", doc.ID, err)
	}
	rate, err := dist.FromSpec(doc.EnrollmentRate)
	if err != nil {
		return Site{}, fmt.Errorf("site %s enrollment_rate: %w", doc.ID, err)
	}
	return NewSite(SiteParams{ID: doc.ID, MaxCapacity: doc.MaxCapacity, ActivationTime: activation, EnrollmentRate: rate})
}

// SiteFromJSON reconstructs a validated Site from its JSON form.
func SiteFromJSON(data []byte) (Site, error) {
	var doc siteDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Site{}, fmt.Errorf("decode site: %w", err)
	}
	return siteFromDoc(doc)
}

// entityToMap round-trips any JSON-marshalable entity into a generic map.
func entityToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
