package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"careerxp/core"
)

// Filter selects which events a subscriber receives. Nil accepts everything.
type Filter func(core.Event) bool

// ForUser accepts only events about user.
func ForUser(user core.UserID) Filter {
	return func(ev core.Event) bool { return ev.UserID == user }
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub fans grant and level-up events out to channel subscribers.
// Slow subscribers lose events instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

func (h *Hub) Subscribe(buffer int, filter Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: filter}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	// hold the read lock while sending so Unsubscribe cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Source is anything that can deliver typed events to a handler.
type Source interface {
	Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func()
}

// Attach forwards xp_granted and level_up events from src. The returned func detaches.
func (h *Hub) Attach(src Source) func() {
	offGrant := src.Subscribe(core.EventXPGranted, h.Broadcast)
	offLevel := src.Subscribe(core.EventLevelUp, h.Broadcast)
	return func() {
		offGrant()
		offLevel()
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
