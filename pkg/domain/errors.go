package domain

import "fmt"

// ValidationError reports a construction-time violation on an entity. No
// entity is ever allowed to exist in an invalid state, so these surface
// immediately from constructors.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s: invalid %s: %s", e.Entity, e.ID, e.Field, e.Reason)
}

// UnknownReferenceError reports a reference to an entity or state that does
// not exist in the enclosing trial.
type UnknownReferenceError struct {
	Kind         string
	ID           string
	ReferencedBy string
}

func (e UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown %s %q", e.ReferencedBy, e.Kind, e.ID)
}
