package events_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parley-project/parley/internal/events"
)

func TestEmitSyncInvokesAllHandlers(t *testing.T) {
	bus := events.NewEventBus()

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(events.EventSessionJoined, fmt.Sprintf("h%d", i), func(ctx context.Context, e events.Event) error {
			calls.Add(1)
			return nil
		})
	}

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventSessionJoined,
		Source:  "test",
		Payload: events.SessionPayload{Name: "alice", Port: 40000},
	})
	if err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := events.NewEventBus()
	bus.Subscribe(events.EventRoomCreated, "failing", func(ctx context.Context, e events.Event) error {
		return fmt.Errorf("boom")
	})

	err := bus.EmitSync(context.Background(), events.Event{Type: events.EventRoomCreated})
	if err == nil {
		t.Fatal("EmitSync() expected handler error, got nil")
	}
}

func TestEmitIsAsynchronous(t *testing.T) {
	bus := events.NewEventBus()

	done := make(chan struct{})
	bus.Subscribe(events.EventSessionTimedOut, "slow", func(ctx context.Context, e events.Event) error {
		close(done)
		return nil
	})

	bus.Emit(context.Background(), events.Event{Type: events.EventSessionTimedOut})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked within 1s")
	}
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := events.NewEventBus()

	var calls atomic.Int32
	bus.Subscribe(events.EventShutdown, "counter", func(ctx context.Context, e events.Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Emit(context.Background(), events.Event{Type: events.EventShutdown})

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("handler calls after Stop = %d, want 0", got)
	}
}

func TestHandlerCount(t *testing.T) {
	bus := events.NewEventBus()
	if got := bus.HandlerCount(events.EventRoomDeleted); got != 0 {
		t.Fatalf("HandlerCount() = %d, want 0", got)
	}

	bus.Subscribe(events.EventRoomDeleted, "a", func(ctx context.Context, e events.Event) error { return nil })
	bus.Subscribe(events.EventRoomDeleted, "b", func(ctx context.Context, e events.Event) error { return nil })

	if got := bus.HandlerCount(events.EventRoomDeleted); got != 2 {
		t.Errorf("HandlerCount() = %d, want 2", got)
	}
}
