package domain

import (
	"fmt"
	"math"
)

// RunView provides read-only access to one run's partial state for
// constraint evaluation. Implementations are run-local and never shared
// across runs.
type RunView interface {
	// Clock returns the current simulated time.
	Clock() float64
	// EventTime returns when an event of the given type was executed for
	// the entity, if it has been.
	EventTime(entityID string, typ EventType) (float64, bool)
	// PendingEventTime returns the currently scheduled time of a not yet
	// executed event of the given type for the entity.
	PendingEventTime(entityID string, typ EventType) (float64, bool)
	// EnrollmentCount returns the number of patients enrolled so far.
	EnrollmentCount() int
	// ResourceUsage returns the units of a resource currently in use.
	ResourceUsage(resourceID string) int
	// NextResourceRelease returns the earliest scheduled release time for
	// a resource, if any unit is due to free up.
	NextResourceRelease(resourceID string) (float64, bool)
	// BudgetSpent returns the budget consumed so far.
	BudgetSpent() float64
}

// Constraint is the registration contract shared by validity and
// feasibility constraints. A concrete constraint additionally implements
// ValidityChecker, FeasibilityChecker or both; the engine composes each
// facet uniformly regardless of which constraint produced it.
type Constraint interface {
	Name() string
	// Bind resolves the constraint against a trial before the first run.
	// Unresolvable entity references fail here, never silently at
	// evaluation time.
	Bind(trial Trial) error
}

// ValidityResult answers "can this event occur at all at its proposed
// time". When invalid, EarliestValidTime is the soonest time at which the
// event could become valid; +Inf means unknowable until further events
// execute, and the engine reschedules behind the next queued event.
type ValidityResult struct {
	Valid             bool
	EarliestValidTime float64
	Explanation       string
}

// FeasibilityResult answers "how efficiently can this valid event occur":
// an added delay and execution parameter overrides.
type FeasibilityResult struct {
	Delay       float64
	Overrides   map[string]float64
	Explanation string
}

// ValidityChecker is the validity facet of a constraint.
type ValidityChecker interface {
	Constraint
	CheckValidity(view RunView, ev *Event) (ValidityResult, error)
}

// FeasibilityChecker is the feasibility facet of a constraint.
type FeasibilityChecker interface {
	Constraint
	CheckFeasibility(view RunView, ev *Event) (FeasibilityResult, error)
}

// Composed is the merged outcome of evaluating every registered constraint
// against one candidate event:
//
//	Valid             = AND over validity results
//	EarliestValidTime = MAX over validity results
//	Delay             = MAX over feasibility results
//	Overrides         = MERGE over feasibility results (later constraint wins)
type Composed struct {
	Valid             bool
	EarliestValidTime float64
	Delay             float64
	Overrides         map[string]float64
	Explanations      []string
}

// ScheduledTime returns the final time at which the event may execute:
// MAX(earliest valid time, proposed + delay).
func (c Composed) ScheduledTime(proposed float64) float64 {
	t := proposed + c.Delay
	if !c.Valid && c.EarliestValidTime > t {
		return c.EarliestValidTime
	}
	return t
}

// ConstraintSet registers constraints and evaluates them uniformly against
// candidate events.
type ConstraintSet struct {
	constraints []Constraint
	bound       bool
}

// NewConstraintSet constructs an empty set.
func NewConstraintSet(constraints ...Constraint) *ConstraintSet {
	return &ConstraintSet{constraints: constraints}
}

// Register appends a constraint. Registration after Bind is an error
// surfaced at the next Bind call.
func (s *ConstraintSet) Register(c Constraint) {
	s.constraints = append(s.constraints, c)
	s.bound = false
}

// Len returns the number of registered constraints.
func (s *ConstraintSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.constraints)
}

// Bind resolves every constraint against the trial. It must be called
// before Evaluate; unresolved references fail here.
func (s *ConstraintSet) Bind(trial Trial) error {
	if s == nil {
		return nil
	}
	for _, c := range s.constraints {
		if err := c.Bind(trial); err != nil {
			return fmt.Errorf("bind constraint %s: %w", c.Name(), err)
		}
	}
	s.bound = true
	return nil
}

// Evaluate runs every registered facet against the event and composes the
// results. Every contributing explanation is retained for audit output. A
// nil or empty set composes to an unconditionally valid result, so the
// engine behaves identically with no constraints configured.
func (s *ConstraintSet) Evaluate(view RunView, ev *Event) (Composed, error) {
	composed := Composed{Valid: true, EarliestValidTime: math.Inf(-1)}
	if s == nil || len(s.constraints) == 0 {
		composed.EarliestValidTime = 0
		return composed, nil
	}
	if !s.bound {
		return Composed{}, fmt.Errorf("constraint set must be bound to a trial before evaluation")
	}
	for _, c := range s.constraints {
		if vc, ok := c.(ValidityChecker); ok {
			res, err := vc.CheckValidity(view, ev)
			if err != nil {
				return Composed{}, fmt.Errorf("constraint %s: %w", c.Name(), err)
			}
			if res.Explanation == "" {
				return Composed{}, fmt.Errorf("constraint %s returned an empty explanation", c.Name())
			}
			composed.Valid = composed.Valid && res.Valid
			if !res.Valid && res.EarliestValidTime > composed.EarliestValidTime {
				composed.EarliestValidTime = res.EarliestValidTime
			}
			composed.Explanations = append(composed.Explanations, fmt.Sprintf("%s: %s", c.Name(), res.Explanation))
		}
		if fc, ok := c.(FeasibilityChecker); ok {
			res, err := fc.CheckFeasibility(view, ev)
			if err != nil {
				return Composed{}, fmt.Errorf("constraint %s: %w", c.Name(), err)
			}
			if res.Explanation == "" {
				return Composed{}, fmt.Errorf("constraint %s returned an empty explanation", c.Name())
			}
			if res.Delay > composed.Delay {
				composed.Delay = res.Delay
			}
			if len(res.Overrides) > 0 {
				if composed.Overrides == nil {
					composed.Overrides = make(map[string]float64, len(res.Overrides))
				}
				for k, v := range res.Overrides {
					composed.Overrides[k] = v
				}
			}
			composed.Explanations = append(composed.Explanations, fmt.Sprintf("%s: %s", c.Name(), res.Explanation))
		}
	}
	if composed.Valid {
		composed.EarliestValidTime = 0
	}
	return composed, nil
}
