package domain

// EventType identifies the kind of simulation event being proposed or
// executed.
type EventType string

// Event types produced by the simulation engine.
const (
	// EventSiteActivation marks a site becoming able to enroll.
	EventSiteActivation EventType = "site_activation"
	// EventEnrollment marks one patient enrolling at a site.
	EventEnrollment EventType = "patient_enrollment"
	// EventTransition marks a patient moving between flow states.
	EventTransition EventType = "patient_transition"
	// EventActivityStart marks a trial activity beginning.
	EventActivityStart EventType = "activity_start"
	// EventActivityComplete marks a trial activity finishing.
	EventActivityComplete EventType = "activity_complete"
)

// Event is a runtime record proposed to the constraint layer before
// execution. Events are produced and consumed inside a single run and are
// never shared across runs. Params carry proposed execution parameters;
// Overrides accumulates feasibility decisions (cached so re-evaluating the
// same event is idempotent).
type Event struct {
	Time      float64
	Type      EventType
	EntityID  string
	Sequence  uint64
	Params    map[string]float64
	Overrides map[string]float64
}

// Param returns a proposed execution parameter, falling back to def when
// unset. Overrides win over Params.
func (e *Event) Param(name string, def float64) float64 {
	if v, ok := e.Overrides[name]; ok {
		return v
	}
	if v, ok := e.Params[name]; ok {
		return v
	}
	return def
}

// SetOverride records a feasibility decision on the event.
func (e *Event) SetOverride(name string, v float64) {
	if e.Overrides == nil {
		e.Overrides = make(map[string]float64, 1)
	}
	e.Overrides[name] = v
}

// Override returns a cached feasibility decision.
func (e *Event) Override(name string) (float64, bool) {
	v, ok := e.Overrides[name]
	return v, ok
}
