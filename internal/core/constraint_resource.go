package core

import (
	"fmt"

	"trialcore/pkg/domain"
)

// ResourceCapacityConstraint delays activity starts while every unit of a
// required resource is in use. The delay is the wait until the earliest
// scheduled release, so a start proposed under contention slides instead
// of being dropped.
type ResourceCapacityConstraint struct {
	capacities    map[string]int
	activityNeeds map[string][]string
}

// releaseSlack holds a start just behind a release that is due at the
// same instant. The unit only frees when the completion event executes,
// so a start sharing its timestamp must not jump ahead of it.
const releaseSlack = 1e-9

// NewResourceCapacity constructs an unbound constraint; capacities and
// activity requirements resolve at Bind.
func NewResourceCapacity() *ResourceCapacityConstraint {
	return &ResourceCapacityConstraint{}
}

// Name implements domain.Constraint.
func (c *ResourceCapacityConstraint) Name() string { return "resource_capacity" }

// Bind resolves resource capacities and per-activity requirements from the
// trial. An activity referencing a resource the trial does not declare
// fails here, never silently at evaluation.
func (c *ResourceCapacityConstraint) Bind(trial domain.Trial) error {
	c.capacities = make(map[string]int)
	for _, r := range trial.Resources() {
		c.capacities[r.ID()] = r.Capacity()
	}
	c.activityNeeds = make(map[string][]string)
	for _, a := range trial.Activities() {
		needs := a.RequiredResources()
		for _, res := range needs {
			if _, ok := c.capacities[res]; !ok {
				return domain.UnknownReferenceError{Kind: "resource", ID: res, ReferencedBy: "activity " + a.ID()}
			}
		}
		c.activityNeeds[a.ID()] = needs
	}
	return nil
}

// CheckFeasibility implements domain.FeasibilityChecker.
func (c *ResourceCapacityConstraint) CheckFeasibility(view domain.RunView, ev *domain.Event) (domain.FeasibilityResult, error) {
	if c.capacities == nil {
		return domain.FeasibilityResult{}, fmt.Errorf("resource capacity constraint evaluated before binding")
	}
	if ev.Type != domain.EventActivityStart {
		return domain.FeasibilityResult{Explanation: "event acquires no resources"}, nil
	}
	needs, ok := c.activityNeeds[ev.EntityID]
	if !ok {
		return domain.FeasibilityResult{}, fmt.Errorf("activity %s unknown to resource constraint", ev.EntityID)
	}

	var delay float64
	blocked := ""
	for _, res := range needs {
		if view.ResourceUsage(res) < c.capacities[res] {
			continue
		}
		release, ok := view.NextResourceRelease(res)
		if !ok {
			return domain.FeasibilityResult{}, fmt.Errorf("resource %s saturated with no scheduled release", res)
		}
		wait := release - ev.Time
		if wait <= 0 {
			wait = releaseSlack
		}
		if wait > delay {
			delay = wait
			blocked = res
		}
	}
	if delay <= 0 {
		return domain.FeasibilityResult{Explanation: "all required resources available"}, nil
	}
	return domain.FeasibilityResult{
		Delay:       delay,
		Explanation: fmt.Sprintf("resource %s saturated, waiting %.4f for a release", blocked, delay),
	}, nil
}

var (
	_ domain.Constraint         = (*ResourceCapacityConstraint)(nil)
	_ domain.FeasibilityChecker = (*ResourceCapacityConstraint)(nil)
)
