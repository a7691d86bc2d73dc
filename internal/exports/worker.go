// Package exports renders persisted simulation records into shareable
// artifacts (timeline CSV, aggregated-results JSON) and stores them in
// a blob store. Rendering runs on a background worker so callers can
// enqueue an export and poll its status.
package exports

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"trialcore/internal/blob"
	"trialcore/internal/core"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format selects an artifact rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Artifact captures one stored export artifact.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID           string     `json:"id"`
	SimulationID string     `json:"simulation_id"`
	Formats      []Format   `json:"formats"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Artifacts    []Artifact `json:"artifacts,omitempty"`
	RequestedBy  string     `json:"requested_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	out := r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Input is an enqueue request for the worker.
type Input struct {
	SimulationID string
	Formats      []Format
	RequestedBy  string
}

// RecordSource resolves persisted simulation records by ID.
type RecordSource interface {
	Record(ctx context.Context, id string) (core.SimulationRecord, error)
}

// Worker renders exports asynchronously off a bounded queue.
type Worker struct {
	source RecordSource
	store  blob.Store
	logger *slog.Logger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs an export worker. A nil logger discards output.
func NewWorker(source RecordSource, store blob.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		logger: logger,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing queued exports.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for in-flight work, or
// until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an export and returns the queued record snapshot.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if strings.TrimSpace(input.SimulationID) == "" {
		return Record{}, fmt.Errorf("exports: simulation id required")
	}
	if _, err := w.source.Record(ctx, input.SimulationID); err != nil {
		return Record{}, fmt.Errorf("exports: resolve simulation %s: %w", input.SimulationID, err)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, f := range formats {
		if f != FormatJSON && f != FormatCSV {
			return Record{}, fmt.Errorf("exports: unsupported format %q", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		uniq = append(uniq, f)
		seen[f] = struct{}{}
	}

	id := newExportID()
	now := time.Now().UTC()
	record := Record{
		ID:           id,
		SimulationID: input.SimulationID,
		Formats:      uniq,
		Status:       StatusQueued,
		RequestedBy:  input.RequestedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return Record{}, fmt.Errorf("exports: queue full")
	}
	w.logger.Info("export queued", "export_id", id, "simulation_id", input.SimulationID)
	return snapshot, nil
}

// Get returns a snapshot of an export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning, "")

	sim, err := w.source.Record(w.ctx, t.input.SimulationID)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("load simulation %s: %v", t.input.SimulationID, err))
		return
	}

	w.mu.RLock()
	job, ok := w.jobs[t.id]
	var formats []Format
	if ok {
		formats = append([]Format(nil), job.Formats...)
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		payload, contentType, err := render(format, sim)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		key := fmt.Sprintf("simulations/%s/%s.%s", sim.ID, t.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"simulation-id": sim.ID},
		})
		if err != nil {
			w.fail(t.id, fmt.Sprintf("store artifact %s: %v", key, err))
			return
		}
		artifact := Artifact{
			Key:         key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			CreatedAt:   info.CreatedAt,
		}
		if url, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{}); err == nil {
			artifact.URL = url
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(t.id, artifacts)
}

func render(format Format, sim core.SimulationRecord) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(sim, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("exports: marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		return renderTimelineCSV(sim)
	default:
		return nil, "", fmt.Errorf("exports: unsupported format %q", format)
	}
}

// renderTimelineCSV flattens every retained run timeline into one table.
// Simulations persisted without retained runs export the summary row only.
func renderTimelineCSV(sim core.SimulationRecord) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"run_index", "time", "event_type", "entity_id", "description"}); err != nil {
		return nil, "", fmt.Errorf("exports: write csv header: %w", err)
	}
	for _, run := range sim.Results.Results {
		for _, entry := range run.Timeline {
			row := []string{
				strconv.Itoa(run.RunIndex),
				strconv.FormatFloat(entry.Time, 'g', -1, 64),
				string(entry.Type),
				entry.EntityID,
				entry.Description,
			}
			if err := writer.Write(row); err != nil {
				return nil, "", fmt.Errorf("exports: write csv row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", fmt.Errorf("exports: flush csv: %w", err)
	}
	return buf.Bytes(), "text/csv", nil
}

func (w *Worker) setStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("export completed", "export_id", id, "artifacts", len(artifacts))
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Error("export failed", "export_id", id, "error", reason)
}

func newExportID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("export-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
