package engine

import (
	"context"
	"sync"

	"careerxp/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// ParseDispatchMode maps "sync"/"async" to a DispatchMode. Anything else is async.
func ParseDispatchMode(s string) DispatchMode {
	if s == "sync" {
		return DispatchSync
	}
	return DispatchAsync
}

type handler func(context.Context, core.Event)

// EventBus provides thread-safe pub/sub with sync and async dispatch.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]handler
	nextID  int64
	queue   chan core.Event
	workers int
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode:    mode,
		subs:    make(map[core.EventType]map[int64]handler),
		queue:   make(chan core.Event, 1024),
		workers: 2,
		done:    make(chan struct{}),
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case ev := <-e.queue:
					e.dispatch(context.Background(), ev)
				case <-e.done:
					return
				}
			}
		}()
	}
}

// Close stops async workers. Events still queued are dropped.
func (e *EventBus) Close() {
	e.once.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]handler)
	}
	e.subs[typ][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[typ], id)
	}
}

// Publish sends an event to subscribers. In async mode a full queue drops the event.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		select {
		case e.queue <- ev:
		default:
		}
		return
	}
	e.dispatch(ctx, ev)
}

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}
