package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"trialcore/internal/blob"
	"trialcore/internal/core"
	"trialcore/pkg/sim"
)

type mapSource map[string]core.SimulationRecord

func (m mapSource) Record(_ context.Context, id string) (core.SimulationRecord, error) {
	rec, ok := m[id]
	if !ok {
		return core.SimulationRecord{}, core.ErrRecordNotFound
	}
	return rec, nil
}

func sampleRecord() core.SimulationRecord {
	return core.SimulationRecord{
		ID:         "sim-onc-204",
		TrialID:    "onc-204",
		MasterSeed: 42,
		NumRuns:    2,
		CreatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Results: sim.AggregatedResults{
			Runs:          2,
			CompletedRuns: 2,
			CompletionP10: 110.0,
			CompletionP50: 120.5,
			CompletionP90: 131.0,
			MeanEnrolled:  50,
			Results: []sim.RunResult{
				{
					RunIndex:       0,
					CompletionTime: 118.0,
					Enrolled:       50,
					Timeline: []sim.TimelineEntry{
						{Time: 12.5, Type: "site_activation", EntityID: "site-1", Description: "site site-1 activated"},
						{Time: 14.0, Type: "patient_enrollment", EntityID: "site-1/patient-0001"},
					},
				},
				{
					RunIndex:       1,
					CompletionTime: 123.0,
					Enrolled:       50,
					Timeline: []sim.TimelineEntry{
						{Time: 11.0, Type: "site_activation", EntityID: "site-1", Description: "site site-1 activated"},
					},
				},
			},
		},
	}
}

func waitTerminal(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.Get(id)
		if !ok {
			t.Fatalf("export %s vanished", id)
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return Record{}
}

func TestWorkerRendersArtifacts(t *testing.T) {
	source := mapSource{"sim-onc-204": sampleRecord()}
	store := blob.NewMemory()
	worker := NewWorker(source, store, nil)
	worker.Start()
	defer worker.Stop(context.Background())

	queued, err := worker.Enqueue(context.Background(), Input{SimulationID: "sim-onc-204", RequestedBy: "planner"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != StatusQueued {
		t.Fatalf("expected queued status, got %s", queued.Status)
	}
	if len(queued.Formats) != 2 {
		t.Fatalf("expected default formats json+csv, got %v", queued.Formats)
	}

	record := waitTerminal(t, worker, queued.ID)
	if record.Status != StatusSucceeded {
		t.Fatalf("export failed: %s", record.Error)
	}
	if len(record.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(record.Artifacts))
	}
	if record.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	for _, artifact := range record.Artifacts {
		rc, _, err := store.Get(context.Background(), artifact.Key)
		if err != nil {
			t.Fatalf("artifact %s missing from store: %v", artifact.Key, err)
		}
		payload, _ := io.ReadAll(rc)
		rc.Close()
		switch artifact.Format {
		case FormatJSON:
			var decoded core.SimulationRecord
			if err := json.Unmarshal(payload, &decoded); err != nil {
				t.Fatalf("decode json artifact: %v", err)
			}
			if decoded.ID != "sim-onc-204" || decoded.Results.CompletionP50 != 120.5 {
				t.Fatalf("json artifact does not round-trip: %+v", decoded)
			}
		case FormatCSV:
			body := string(payload)
			if !strings.HasPrefix(body, "run_index,time,event_type,entity_id,description\n") {
				t.Fatalf("unexpected csv header: %q", body)
			}
			if !strings.Contains(body, "0,12.5,site_activation,site-1,site site-1 activated") {
				t.Fatalf("missing timeline row in csv: %q", body)
			}
			if !strings.Contains(body, "1,11,site_activation,site-1") {
				t.Fatalf("missing second run rows in csv: %q", body)
			}
		default:
			t.Fatalf("unexpected artifact format %s", artifact.Format)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	source := mapSource{"sim-onc-204": sampleRecord()}
	worker := NewWorker(source, blob.NewMemory(), nil)

	if _, err := worker.Enqueue(context.Background(), Input{}); err == nil {
		t.Fatal("expected error for empty simulation id")
	}
	if _, err := worker.Enqueue(context.Background(), Input{SimulationID: "ghost"}); !errors.Is(err, core.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := worker.Enqueue(context.Background(), Input{SimulationID: "sim-onc-204", Formats: []Format{"parquet"}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type failingStore struct{ blob.Store }

func (f failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, fmt.Errorf("bucket unavailable")
}

func TestWorkerRecordsStoreFailures(t *testing.T) {
	source := mapSource{"sim-onc-204": sampleRecord()}
	worker := NewWorker(source, failingStore{blob.NewMemory()}, nil)
	worker.Start()
	defer worker.Stop(context.Background())

	queued, err := worker.Enqueue(context.Background(), Input{SimulationID: "sim-onc-204", Formats: []Format{FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitTerminal(t, worker, queued.ID)
	if record.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", record.Status)
	}
	if !strings.Contains(record.Error, "bucket unavailable") {
		t.Fatalf("expected store error to surface, got %q", record.Error)
	}
}

func TestCSVWithoutRetainedRunsHasHeaderOnly(t *testing.T) {
	rec := sampleRecord()
	rec.Results.Results = nil
	payload, contentType, err := render(FormatCSV, rec)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "text/csv" {
		t.Fatalf("unexpected content type %s", contentType)
	}
	if strings.TrimSpace(string(payload)) != "run_index,time,event_type,entity_id,description" {
		t.Fatalf("expected header-only csv, got %q", payload)
	}
}

func TestGetUnknownExport(t *testing.T) {
	worker := NewWorker(mapSource{}, blob.NewMemory(), nil)
	if _, ok := worker.Get("missing"); ok {
		t.Fatal("expected missing export lookup to fail")
	}
}
