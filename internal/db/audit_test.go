package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/parley-project/parley/internal/events"
)

func newTestStore(t *testing.T) *AuditStore {
	t.Helper()

	store, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Record("session_joined", "alice", "general", "port=40000"); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := store.Record("room_created", "", "dev", ""); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].EventType != "room_created" || entries[0].Room != "dev" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if entries[1].EventType != "session_joined" || entries[1].User != "alice" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := store.Record("session_active", "alice", "general", ""); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	entries, err := store.Recent(3)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	store := newTestStore(t)

	bus := events.NewEventBus()
	store.Attach(bus)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventSessionJoined,
		Source:  "test",
		Payload: events.SessionPayload{Name: "alice", Port: 40000, Room: "general"},
	})
	if err != nil {
		t.Fatalf("EmitSync() returned %v", err)
	}
	err = bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventRoomSwitched,
		Source:  "test",
		Payload: events.RoomPayload{Room: "dev", Actor: "alice", From: "general"},
	})
	if err != nil {
		t.Fatalf("EmitSync() returned %v", err)
	}

	joined, err := store.CountByType(string(events.EventSessionJoined))
	if err != nil {
		t.Fatalf("CountByType() failed: %v", err)
	}
	if joined != 1 {
		t.Fatalf("joined count = %d, want 1", joined)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Detail != "from=general" {
		t.Fatalf("entries[0].Detail = %q, want from=general", entries[0].Detail)
	}
}
