// Package memory provides the in-memory RecordStore used directly in
// tests and embedded by the durable stores, which snapshot its state
// after every write.
package memory

import (
	"context"
	"sort"
	"sync"

	"trialcore/internal/core"
)

// Store keeps simulation records in process memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]core.SimulationRecord
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]core.SimulationRecord)}
}

// SaveRecord implements core.RecordStore.
func (s *Store) SaveRecord(_ context.Context, record core.SimulationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

// GetRecord implements core.RecordStore.
func (s *Store) GetRecord(_ context.Context, id string) (core.SimulationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return core.SimulationRecord{}, core.ErrRecordNotFound
	}
	return record, nil
}

// ListRecords implements core.RecordStore. Records come back ordered by
// creation time, oldest first, with the id as tiebreak.
func (s *Store) ListRecords(_ context.Context) ([]core.SimulationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SimulationRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close implements core.RecordStore.
func (s *Store) Close() error { return nil }

// ExportState returns a copy of every record for snapshotting.
func (s *Store) ExportState() []core.SimulationRecord {
	records, _ := s.ListRecords(context.Background())
	return records
}

// ImportState replaces the store contents with a loaded snapshot.
func (s *Store) ImportState(records []core.SimulationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]core.SimulationRecord, len(records))
	for _, record := range records {
		s.records[record.ID] = record
	}
}

var _ core.RecordStore = (*Store)(nil)
