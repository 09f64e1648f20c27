package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/util"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS chat_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred   DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	user       TEXT NOT NULL DEFAULT '',
	room       TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chat_events_occurred ON chat_events(occurred);
CREATE INDEX IF NOT EXISTS idx_chat_events_type ON chat_events(event_type);
`

// AuditStore records lifecycle events: joins, rejections, timeouts, and
// room changes. It subscribes to the event bus and writes one row per
// event.
type AuditStore struct {
	db     *Database
	logger zerolog.Logger
}

// AuditEntry is one recorded lifecycle event.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Occurred  time.Time `json:"occurred"`
	EventType string    `json:"event_type"`
	User      string    `json:"user,omitempty"`
	Room      string    `json:"room,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// NewAuditStore opens the audit database and ensures the schema exists.
func NewAuditStore(path string) (*AuditStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(auditSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &AuditStore{
		db:     database,
		logger: util.ComponentLogger("audit"),
	}, nil
}

// Close closes the underlying database.
func (a *AuditStore) Close() error {
	return a.db.Close()
}

// Attach subscribes the store to every lifecycle event on the bus.
func (a *AuditStore) Attach(bus *events.EventBus) {
	types := []events.EventType{
		events.EventSessionJoined,
		events.EventSessionActive,
		events.EventSessionTimedOut,
		events.EventSessionClosed,
		events.EventNameRejected,
		events.EventRoomCreated,
		events.EventRoomDeleted,
		events.EventRoomSwitched,
	}
	for _, t := range types {
		bus.Subscribe(t, "audit", a.onEvent)
	}
}

func (a *AuditStore) onEvent(ctx context.Context, ev events.Event) error {
	var user, room, detail string
	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		user = p.Name
		room = p.Room
		detail = fmt.Sprintf("port=%d", p.Port)
	case events.RejectPayload:
		user = p.Name
		detail = fmt.Sprintf("remote=%s", p.Remote)
	case events.RoomPayload:
		user = p.Actor
		room = p.Room
		if p.From != "" {
			detail = fmt.Sprintf("from=%s", p.From)
		}
	}
	return a.Record(string(ev.Type), user, room, detail)
}

// Record inserts one audit row.
func (a *AuditStore) Record(eventType, user, room, detail string) error {
	_, err := a.db.Exec(
		"INSERT INTO chat_events (occurred, event_type, user, room, detail) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC(), eventType, user, room, detail,
	)
	if err != nil {
		a.logger.Error().Err(err).Str("event", eventType).Msg("failed to record audit event")
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (a *AuditStore) Recent(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		"SELECT id, occurred, event_type, user, room, detail FROM chat_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Occurred, &e.EventType, &e.User, &e.Room, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByType returns how many events of the given type are recorded.
func (a *AuditStore) CountByType(eventType string) (int, error) {
	var n int
	err := a.db.QueryRow(
		"SELECT COUNT(*) FROM chat_events WHERE event_type = ?",
		eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
