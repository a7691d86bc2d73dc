package core

import (
	"context"
	"errors"
	"time"

	"trialcore/pkg/sim"
)

// ErrRecordNotFound is returned by RecordStore lookups for unknown ids.
var ErrRecordNotFound = errors.New("simulation record not found")

// SimulationRecord is one persisted simulation outcome: the inputs that
// identify it plus the aggregated results.
type SimulationRecord struct {
	ID         string                `json:"id"`
	TrialID    string                `json:"trial_id"`
	ScenarioID string                `json:"scenario_id,omitempty"`
	MasterSeed int64                 `json:"master_seed"`
	NumRuns    int                   `json:"num_runs"`
	CreatedAt  time.Time             `json:"created_at"`
	Results    sim.AggregatedResults `json:"results"`
}

// RecordStore persists simulation records. Implementations live under
// internal/infra/persistence and must be safe for concurrent use.
type RecordStore interface {
	SaveRecord(ctx context.Context, record SimulationRecord) error
	GetRecord(ctx context.Context, id string) (SimulationRecord, error)
	ListRecords(ctx context.Context) ([]SimulationRecord, error)
	Close() error
}
