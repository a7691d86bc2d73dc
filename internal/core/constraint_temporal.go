package core

import (
	"fmt"
	"math"

	"trialcore/pkg/domain"
)

// TemporalPrecedenceConstraint gates a dependent event type behind a
// predecessor event type for the same entity: the dependent event is
// invalid until the predecessor has executed. When the predecessor is only
// queued, the earliest valid time is its scheduled time; when nothing is
// known yet the constraint reports +Inf and the engine parks the event
// behind the next queued one.
type TemporalPrecedenceConstraint struct {
	predecessor domain.EventType
	dependent   domain.EventType
}

// NewTemporalPrecedence constructs the constraint. Both event types are
// required and must differ.
func NewTemporalPrecedence(predecessor, dependent domain.EventType) (TemporalPrecedenceConstraint, error) {
	if predecessor == "" || dependent == "" {
		return TemporalPrecedenceConstraint{}, fmt.Errorf("temporal precedence: both event types are required")
	}
	if predecessor == dependent {
		return TemporalPrecedenceConstraint{}, fmt.Errorf("temporal precedence: %s cannot precede itself", predecessor)
	}
	return TemporalPrecedenceConstraint{predecessor: predecessor, dependent: dependent}, nil
}

// Name implements domain.Constraint.
func (c TemporalPrecedenceConstraint) Name() string {
	return fmt.Sprintf("temporal_precedence(%s->%s)", c.predecessor, c.dependent)
}

// Bind implements domain.Constraint. The constraint references event
// types, not entities, so there is nothing to resolve.
func (c TemporalPrecedenceConstraint) Bind(domain.Trial) error { return nil }

// CheckValidity implements domain.ValidityChecker.
func (c TemporalPrecedenceConstraint) CheckValidity(view domain.RunView, ev *domain.Event) (domain.ValidityResult, error) {
	if ev.Type != c.dependent {
		return domain.ValidityResult{Valid: true, Explanation: "event type not gated"}, nil
	}
	if t, ok := view.EventTime(ev.EntityID, c.predecessor); ok {
		if ev.Time >= t {
			return domain.ValidityResult{
				Valid:       true,
				Explanation: fmt.Sprintf("%s for %s occurred at %.4f", c.predecessor, ev.EntityID, t),
			}, nil
		}
		return domain.ValidityResult{
			Valid:             false,
			EarliestValidTime: t,
			Explanation:       fmt.Sprintf("%s for %s occurs at %.4f, after the proposed time", c.predecessor, ev.EntityID, t),
		}, nil
	}
	if t, ok := view.PendingEventTime(ev.EntityID, c.predecessor); ok {
		return domain.ValidityResult{
			Valid:             false,
			EarliestValidTime: t,
			Explanation:       fmt.Sprintf("%s for %s is scheduled at %.4f and has not executed", c.predecessor, ev.EntityID, t),
		}, nil
	}
	return domain.ValidityResult{
		Valid:             false,
		EarliestValidTime: math.Inf(1),
		Explanation:       fmt.Sprintf("no %s observed or scheduled for %s yet", c.predecessor, ev.EntityID),
	}, nil
}

var (
	_ domain.Constraint      = TemporalPrecedenceConstraint{}
	_ domain.ValidityChecker = TemporalPrecedenceConstraint{}
)
