// Package postgres provides a RecordStore backed by Postgres. It mirrors
// the sqlite store: reads come from the embedded in-memory store and every
// write snapshots the full record set as a JSONB blob.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"trialcore/internal/core"
	"trialcore/internal/infra/persistence/memory"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/trialcore?sslmode=disable"

	recordsBucket = "simulation_records"
)

// sqlOpen is swapped for a stub driver in tests.
var sqlOpen = sql.Open

// Store persists simulation records to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falling
// back to a local default), ensures the snapshot table exists and hydrates
// the in-memory store from any existing snapshot.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, recordsBucket).Scan(&payload)
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

func (s *Store) persist(ctx context.Context) error {
	payload, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		recordsBucket, payload,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", recordsBucket, err)
	}
	return nil
}

// SaveRecord writes through the in-memory store, then snapshots to
// Postgres.
func (s *Store) SaveRecord(ctx context.Context, record core.SimulationRecord) error {
	if err := s.Store.SaveRecord(ctx, record); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

var _ core.RecordStore = (*Store)(nil)
