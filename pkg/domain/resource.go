package domain

import (
	"encoding/json"
	"fmt"
)

// ResourceParams are the construction inputs for a Resource.
type ResourceParams struct {
	ID       string
	Capacity int
}

// Resource is a shared pool (staff, equipment, budget line) with a fixed
// concurrent capacity.
type Resource struct {
	id       string
	capacity int
}

// NewResource validates capacity >= 0 and constructs a Resource.
func NewResource(p ResourceParams) (Resource, error) {
	if p.ID == "" {
		return Resource{}, ValidationError{Entity: "resource", Field: "id", Reason: "must be non-empty"}
	}
	if p.Capacity < 0 {
		return Resource{}, ValidationError{Entity: "resource", ID: p.ID, Field: "capacity", Reason: fmt.Sprintf("must be >= 0, got %d", p.Capacity)}
	}
	return Resource{id: p.ID, capacity: p.Capacity}, nil
}

// ID returns the resource identifier.
func (r Resource) ID() string { return r.id }

// Capacity returns the concurrent usage cap.
func (r Resource) Capacity() int { return r.capacity }

type resourceDoc struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
}

// MarshalJSON serializes the resource.
func (r Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceDoc{ID: r.id, Capacity: r.capacity})
}

// ToMap returns the JSON-safe generic form of the resource.
func (r Resource) ToMap() (map[string]any, error) { return entityToMap(r) }

func resourceFromDoc(doc resourceDoc) (Resource, error) {
	return NewResource(ResourceParams{ID: doc.ID, Capacity: doc.Capacity})
}
