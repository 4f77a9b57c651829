package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
)

func TestBadgerManager(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger")

	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Stored out of order on purpose
	events := []Event{
		{FQDN: "example.com", Previous: "203.0.113.2", Address: "203.0.113.3", RecordID: "r1", Time: base.Add(2 * time.Minute)},
		{FQDN: "example.com", Previous: "203.0.113.1", Address: "203.0.113.2", RecordID: "r1", Time: base.Add(time.Minute)},
		{FQDN: "www.example.com", Previous: "203.0.113.1", Address: "203.0.113.9", RecordID: "r2", Time: base},
	}
	for _, e := range events {
		if err := manager.Record(ctx, e); err != nil {
			t.Fatalf("failed to record event: %v", err)
		}
	}

	got, err := manager.Events(ctx, "example.com")
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Address != "203.0.113.2" || got[1].Address != "203.0.113.3" {
		t.Errorf("events not in chronological order: %+v", got)
	}
	if !got[0].Time.Equal(base.Add(time.Minute)) {
		t.Errorf("time = %v, want %v", got[0].Time, base.Add(time.Minute))
	}

	other, err := manager.Events(ctx, "www.example.com")
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(other) != 1 || other[0].RecordID != "r2" {
		t.Errorf("unexpected events for www.example.com: %+v", other)
	}

	none, err := manager.Events(ctx, "missing.example.com")
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no events, got %+v", none)
	}
}

func TestBadgerManagerPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()

	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if err := manager.Record(ctx, Event{FQDN: "example.com", Address: "203.0.113.7", DryRun: true}); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("failed to close manager: %v", err)
	}

	reopened, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to reopen manager: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Events(ctx, "example.com")
	if err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	if len(got) != 1 || got[0].Address != "203.0.113.7" {
		t.Fatalf("unexpected events after reopen: %+v", got)
	}
	if !got[0].DryRun {
		t.Error("expected dry run flag to survive a reopen")
	}
	if got[0].Time.IsZero() {
		t.Error("expected record time to be filled in")
	}
}

func TestRecordCanceledContext(t *testing.T) {
	manager, err := New(filepath.Join(t.TempDir(), "badger"), metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := manager.Record(ctx, Event{FQDN: "example.com"}); err == nil {
		t.Error("expected error for canceled context")
	}
}
