package engine

import (
	"context"
	"testing"
	"time"

	"careerxp/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	unsubscribe := bus.Subscribe(core.EventXPGranted, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.Event{Type: core.EventXPGranted, UserID: "u"})
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
	unsubscribe()
	bus.Publish(context.Background(), core.Event{Type: core.EventXPGranted, UserID: "u"})
	if count != 1 {
		t.Fatalf("handler ran after unsubscribe: %d", count)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewLevelUp("u", 50, 2, time.Now()))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusCloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	bus.Close()
	bus.Close()
}

func TestParseDispatchMode(t *testing.T) {
	if ParseDispatchMode("sync") != DispatchSync || ParseDispatchMode("async") != DispatchAsync || ParseDispatchMode("") != DispatchAsync {
		t.Fatal("unexpected dispatch mode mapping")
	}
}
