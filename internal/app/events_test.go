package app

import (
	"context"
	"testing"
	"time"

	"postpilot/internal/eventbus"
	logx "postpilot/pkg/logx"
)

func TestEventMonitorCountsByType(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	mon := newEventMonitor(logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.run(ctx, bus)
	}()

	// Subscription happens inside run; give it a moment before publishing.
	waitFor(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypePostQueued})
		return mon.snapshot()[eventbus.TypePostQueued] > 0
	})

	bus.Publish(eventbus.Event{Type: eventbus.TypePostPublished})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTokenRefresh, Data: map[string]any{"platform": "twitter"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTokenRefresh, Data: map[string]any{"platform": "mastodon"}})

	waitFor(t, func() bool {
		snap := mon.snapshot()
		return snap[eventbus.TypePostPublished] == 1 && snap[eventbus.TypeTokenRefresh] == 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

func TestEventMonitorSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	mon := newEventMonitor(logx.Nop())
	mon.record(eventbus.Event{Type: eventbus.TypePostFailed})

	snap := mon.snapshot()
	snap[eventbus.TypePostFailed] = 99

	if got := mon.snapshot()[eventbus.TypePostFailed]; got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
