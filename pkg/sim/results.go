package sim

import "trialcore/pkg/domain"

// TimelineEntry is one executed event in a run's causal timeline.
type TimelineEntry struct {
	Time        float64          `json:"time"`
	Type        domain.EventType `json:"event_type"`
	EntityID    string           `json:"entity_id"`
	Description string           `json:"description"`
}

// RunResult is one realization of the trial. It is immutable once the run
// finishes: the engine hands it out by value and never touches it again.
type RunResult struct {
	RunIndex       int             `json:"run_index"`
	Timeline       []TimelineEntry `json:"timeline"`
	CompletionTime float64         `json:"completion_time"`
	Enrolled       int             `json:"enrolled"`
	// Incomplete marks a run that hit the maximum simulated time (or ran
	// out of events) before reaching target enrollment and terminal
	// states. This is a recorded outcome, not an error.
	Incomplete bool `json:"incomplete"`
	// TerminalStates maps each patient to their final flow state.
	TerminalStates map[string]string `json:"terminal_states"`
}

// IncompletePolicy controls how incomplete runs weigh into the completion
// time percentiles.
type IncompletePolicy int

const (
	// IncludeClamped counts an incomplete run's completion time as the
	// maximum simulated time. This is the default: incomplete runs are
	// right-censored observations, and dropping them would bias the
	// percentiles optimistic.
	IncludeClamped IncompletePolicy = iota
	// ExcludeIncomplete drops incomplete runs from the completion time
	// percentiles; they still count toward IncompleteRuns and enrollment
	// averages.
	ExcludeIncomplete
)

// AggregatedResults summarizes num_runs independent realizations of one
// (trial, constraints, master seed) tuple.
type AggregatedResults struct {
	Runs           int     `json:"runs"`
	CompletedRuns  int     `json:"completed_runs"`
	IncompleteRuns int     `json:"incomplete_runs"`
	CompletionP10  float64 `json:"completion_time_p10"`
	CompletionP50  float64 `json:"completion_time_p50"`
	CompletionP90  float64 `json:"completion_time_p90"`
	MeanEnrolled   float64 `json:"mean_enrolled"`
	// Results holds the individual run timelines when retention was
	// requested; nil otherwise.
	Results []RunResult `json:"results,omitempty"`
}

func aggregate(results []RunResult, maxTime float64, policy IncompletePolicy, retain bool) AggregatedResults {
	agg := AggregatedResults{Runs: len(results)}
	completions := make([]float64, 0, len(results))
	var enrolledTotal float64
	for _, r := range results {
		enrolledTotal += float64(r.Enrolled)
		if r.Incomplete {
			agg.IncompleteRuns++
			if policy == IncludeClamped {
				completions = append(completions, maxTime)
			}
			continue
		}
		agg.CompletedRuns++
		completions = append(completions, r.CompletionTime)
	}
	agg.CompletionP10 = percentile(completions, 10)
	agg.CompletionP50 = percentile(completions, 50)
	agg.CompletionP90 = percentile(completions, 90)
	if len(results) > 0 {
		agg.MeanEnrolled = enrolledTotal / float64(len(results))
	}
	if retain {
		agg.Results = results
	}
	return agg
}
