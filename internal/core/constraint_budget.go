package core

import (
	"fmt"
	"math"

	"trialcore/pkg/domain"
)

// ResponseCurve maps the ratio of remaining budget to required budget onto
// an execution speed multiplier. Curves are injected, never hardcoded, so
// callers choose how aggressively spending pressure slows the trial.
type ResponseCurve func(ratio float64) float64

// LinearResponseCurve ramps the multiplier linearly from floor at ratio 0
// up to 1 at ratio 1 and holds it there.
func LinearResponseCurve(floor float64) ResponseCurve {
	return func(ratio float64) float64 {
		if ratio >= 1 {
			return 1
		}
		if ratio <= 0 {
			return floor
		}
		return floor + (1-floor)*ratio
	}
}

// BudgetThrottlingConstraint slows event execution as spending approaches
// the total budget. The computed multiplier is cached in the event's own
// overrides, so re-evaluating the same event always yields the same
// decision.
type BudgetThrottlingConstraint struct {
	totalBudget  float64
	costPerEvent float64
	curve        ResponseCurve
}

// NewBudgetThrottling validates and constructs the constraint.
// costPerEvent is the default required budget for events that carry no
// explicit cost parameter.
func NewBudgetThrottling(totalBudget, costPerEvent float64, curve ResponseCurve) (*BudgetThrottlingConstraint, error) {
	if totalBudget <= 0 {
		return nil, fmt.Errorf("budget throttling: total budget must be positive, got %g", totalBudget)
	}
	if costPerEvent <= 0 {
		return nil, fmt.Errorf("budget throttling: cost per event must be positive, got %g", costPerEvent)
	}
	if curve == nil {
		return nil, fmt.Errorf("budget throttling: response curve is required")
	}
	return &BudgetThrottlingConstraint{totalBudget: totalBudget, costPerEvent: costPerEvent, curve: curve}, nil
}

// Name implements domain.Constraint.
func (c *BudgetThrottlingConstraint) Name() string { return "budget_throttling" }

// Bind probes the response curve so a malformed curve fails before the
// first run rather than mid-simulation.
func (c *BudgetThrottlingConstraint) Bind(domain.Trial) error {
	for _, ratio := range []float64{0, 0.5, 1} {
		if m := c.curve(ratio); math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
			return fmt.Errorf("budget throttling: response curve returned %g at ratio %g", m, ratio)
		}
	}
	return nil
}

// CheckFeasibility implements domain.FeasibilityChecker.
func (c *BudgetThrottlingConstraint) CheckFeasibility(view domain.RunView, ev *domain.Event) (domain.FeasibilityResult, error) {
	if cached, ok := ev.Override("speed_multiplier"); ok {
		return domain.FeasibilityResult{
			Overrides:   map[string]float64{"speed_multiplier": cached, "cost": ev.Param("cost", c.costPerEvent)},
			Explanation: fmt.Sprintf("cached throttling decision: speed multiplier %.4f", cached),
		}, nil
	}

	required := ev.Param("cost", c.costPerEvent)
	remaining := c.totalBudget - view.BudgetSpent()
	ratio := 0.0
	if remaining > 0 {
		ratio = remaining / required
	}
	multiplier := c.curve(ratio)
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 {
		return domain.FeasibilityResult{}, fmt.Errorf("budget throttling: response curve returned %g at ratio %g", multiplier, ratio)
	}
	return domain.FeasibilityResult{
		Overrides:   map[string]float64{"speed_multiplier": multiplier, "cost": required},
		Explanation: fmt.Sprintf("budget remaining %.2f of %.2f, speed multiplier %.4f", math.Max(remaining, 0), c.totalBudget, multiplier),
	}, nil
}

var (
	_ domain.Constraint         = (*BudgetThrottlingConstraint)(nil)
	_ domain.FeasibilityChecker = (*BudgetThrottlingConstraint)(nil)
)
