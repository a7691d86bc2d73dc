package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"trialcore/pkg/dist"
)

// Transition identifies a directed edge in the patient state machine.
type Transition struct {
	From string
	To   string
}

// transition keys serialize as "from->to".
const transitionSeparator = "->"

func (t Transition) String() string { return t.From + transitionSeparator + t.To }

func parseTransition(key string) (Transition, error) {
	parts := strings.Split(key, transitionSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Transition{}, fmt.Errorf("transition key %q is not of the form from%sto", key, transitionSeparator)
	}
	return Transition{From: parts[0], To: parts[1]}, nil
}

// PatientFlowParams are the construction inputs for a PatientFlow.
type PatientFlowParams struct {
	States          []string
	InitialState    string
	TerminalStates  []string
	TransitionTimes map[Transition]dist.Distribution
}

// PatientFlow is the per-patient state machine: a state set, one initial
// state, a terminal subset and a transition time distribution per edge.
type PatientFlow struct {
	states      []string
	initial     string
	terminals   []string
	transitions map[Transition]dist.Distribution
}

// NewPatientFlow validates the topology: the initial state and every
// terminal state and transition endpoint must belong to the state set.
func NewPatientFlow(p PatientFlowParams) (PatientFlow, error) {
	states, err := idSet("patient_flow", "", "states", p.States)
	if err != nil {
		return PatientFlow{}, err
	}
	if len(states) == 0 {
		return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "states", Reason: "at least one state required"}
	}
	known := make(map[string]struct{}, len(states))
	for _, s := range states {
		known[s] = struct{}{}
	}
	if _, ok := known[p.InitialState]; !ok {
		return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "initial_state", Reason: fmt.Sprintf("state %q not in states", p.InitialState)}
	}
	terminals, err := idSet("patient_flow", "", "terminal_states", p.TerminalStates)
	if err != nil {
		return PatientFlow{}, err
	}
	if len(terminals) == 0 {
		return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "terminal_states", Reason: "at least one terminal state required"}
	}
	for _, s := range terminals {
		if _, ok := known[s]; !ok {
			return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "terminal_states", Reason: fmt.Sprintf("state %q not in states", s)}
		}
	}
	transitions := make(map[Transition]dist.Distribution, len(p.TransitionTimes))
	for tr, d := range p.TransitionTimes {
		if _, ok := known[tr.From]; !ok {
			return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "transition_times", Reason: fmt.Sprintf("from-state %q not in states", tr.From)}
		}
		if _, ok := known[tr.To]; !ok {
			return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "transition_times", Reason: fmt.Sprintf("to-state %q not in states", tr.To)}
		}
		if d == nil {
			return PatientFlow{}, ValidationError{Entity: "patient_flow", Field: "transition_times", Reason: fmt.Sprintf("transition %s has no distribution", tr)}
		}
		transitions[tr] = d
	}
	return PatientFlow{states: states, initial: p.InitialState, terminals: terminals, transitions: transitions}, nil
}

// States returns a copy of the sorted state set.
func (f PatientFlow) States() []string { return append([]string(nil), f.states...) }

// InitialState returns the entry state for newly enrolled patients.
func (f PatientFlow) InitialState() string { return f.initial }

// TerminalStates returns a copy of the sorted terminal state set.
func (f PatientFlow) TerminalStates() []string { return append([]string(nil), f.terminals...) }

// IsTerminal reports whether the state ends a patient's progression.
func (f PatientFlow) IsTerminal(state string) bool {
	for _, s := range f.terminals {
		if s == state {
			return true
		}
	}
	return false
}

// TransitionsFrom returns the outgoing transitions of a state in
// deterministic (sorted destination) order.
func (f PatientFlow) TransitionsFrom(state string) []Transition {
	var out []Transition
	for tr := range f.transitions {
		if tr.From == state {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

// TransitionTime returns the duration distribution for an edge.
func (f PatientFlow) TransitionTime(tr Transition) (dist.Distribution, bool) {
	d, ok := f.transitions[tr]
	return d, ok
}

type flowDoc struct {
	States          []string             `json:"states"`
	InitialState    string               `json:"initial_state"`
	TerminalStates  []string             `json:"terminal_states"`
	TransitionTimes map[string]dist.Spec `json:"transition_times,omitempty"`
}

// MarshalJSON serializes the flow with transition keys in "from->to" form.
func (f PatientFlow) MarshalJSON() ([]byte, error) {
	doc := flowDoc{
		States:         f.states,
		InitialState:   f.initial,
		TerminalStates: f.terminals,
	}
	if len(f.transitions) > 0 {
		doc.TransitionTimes = make(map[string]dist.Spec, len(f.transitions))
		for tr, d := range f.transitions {
			doc.TransitionTimes[tr.String()] = d.Spec()
		}
	}
	return json.Marshal(doc)
}

// ToMap returns the JSON-safe generic form of the flow.
func (f PatientFlow) ToMap() (map[string]any, error) { return entityToMap(f) }

func flowFromDoc(doc flowDoc) (PatientFlow, error) {
	transitions := make(map[Transition]dist.Distribution, len(doc.TransitionTimes))
	for key, spec := range doc.TransitionTimes {
		tr, err := parseTransition(key)
		if err != nil {
			return PatientFlow{}, err
		}
		d, err := dist.FromSpec(spec)
		if err != nil {
			return PatientFlow{}, fmt.Errorf("transition %s: %w", key, err)
		}
		transitions[tr] = d
	}
	return NewPatientFlow(PatientFlowParams{
		States:          doc.States,
		InitialState:    doc.InitialState,
		TerminalStates:  doc.TerminalStates,
		TransitionTimes: transitions,
	})
}
