// Package sqlite provides a RecordStore that persists the in-memory state
// to a single SQLite table as a JSON blob, snapshotting after every write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"trialcore/internal/core"
	"trialcore/internal/infra/persistence/memory"
)

const recordsBucket = "simulation_records"

// Store persists simulation records to SQLite while serving reads from the
// embedded in-memory store.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path, ensures the snapshot
// table exists and hydrates the in-memory store from any prior state.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "trialcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM state WHERE bucket = ?`, recordsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	var records []core.SimulationRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	s.ImportState(records)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		recordsBucket, payload,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", recordsBucket, err)
	}
	return nil
}

// SaveRecord writes through the in-memory store, then snapshots to SQLite.
func (s *Store) SaveRecord(ctx context.Context, record core.SimulationRecord) error {
	if err := s.Store.SaveRecord(ctx, record); err != nil {
		return err
	}
	return s.persist()
}

// Close flushes nothing further and releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

var _ core.RecordStore = (*Store)(nil)
