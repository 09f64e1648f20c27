// Package events defines the lifecycle event types and the asynchronous
// publish-subscribe bus that connects the chat core to its observers
// (audit log, telemetry, shutdown handling).
package events

// EventType identifies an event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionJoined   EventType = "session_joined"
	EventSessionActive   EventType = "session_active"
	EventSessionTimedOut EventType = "session_timed_out"
	EventSessionClosed   EventType = "session_closed"
	EventNameRejected    EventType = "name_rejected"

	// Room events
	EventRoomCreated  EventType = "room_created"
	EventRoomDeleted  EventType = "room_deleted"
	EventRoomSwitched EventType = "room_switched"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionPayload accompanies session lifecycle events.
type SessionPayload struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	Room string `json:"room,omitempty"`
}

// RejectPayload accompanies EventNameRejected.
type RejectPayload struct {
	Name   string `json:"name"`
	Remote string `json:"remote"`
}

// RoomPayload accompanies room events. Actor is the user who triggered
// the change; empty for server-initiated changes.
type RoomPayload struct {
	Room  string `json:"room"`
	Actor string `json:"actor,omitempty"`
	From  string `json:"from,omitempty"`
}
