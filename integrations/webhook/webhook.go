package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"careerxp/core"
)

const (
	HeaderEvent     = "X-CareerXP-Event"
	HeaderDelivery  = "X-CareerXP-Delivery"
	HeaderSignature = "X-CareerXP-Signature"
)

// Sink posts grant events to configured HTTP endpoints.
// Without WithQueue delivery runs on the publishing goroutine, so a sync bus
// waits on every endpoint. With a queue a single worker posts in order and
// events that find the queue full are dropped.
type Sink struct {
	client    *http.Client
	endpoints []string
	secret    []byte
	logger    *slog.Logger

	queue   chan queued
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type queued struct {
	ctx context.Context
	e   core.Event
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs each body with HMAC-SHA256 in the X-CareerXP-Signature header.
func WithSecret(secret string) Option {
	return func(s *Sink) { s.secret = []byte(secret) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueue buffers up to size events for a background worker. Call Close
// to drain it.
func WithQueue(size int) Option {
	return func(s *Sink) {
		if size > 0 {
			s.queue = make(chan queued, size)
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	if s.queue != nil {
		s.wg.Add(1)
		go s.run()
	}
	return s
}

func (s *Sink) run() {
	defer s.wg.Done()
	for q := range s.queue {
		s.OnEvent(q.ctx, q.e)
	}
}

// Deliver hands e to the queue, or posts it inline when the sink has none.
// It never blocks on a full queue.
func (s *Sink) Deliver(ctx context.Context, e core.Event) {
	if s.queue == nil {
		s.OnEvent(ctx, e)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- queued{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		s.dropped.Add(1)
		s.logger.WarnContext(ctx, "webhook queue full, event dropped",
			"event", e.Type, "user_id", e.UserID)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits for queued deliveries to finish.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed || s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// OnEvent posts the event JSON to every endpoint. Failures are logged and
// do not stop delivery to the remaining endpoints.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook encode failed", "error", err)
		return
	}
	delivery := uuid.NewString()
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, delivery, e.Type, body); err != nil {
			s.logger.WarnContext(ctx, "webhook delivery failed",
				"endpoint", ep, "event", e.Type, "user_id", e.UserID, "error", err)
		}
	}
}

func (s *Sink) post(ctx context.Context, endpoint, delivery string, typ core.EventType, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(typ))
	req.Header.Set(HeaderDelivery, delivery)
	if len(s.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(s.secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Source is anything that can deliver typed events to a handler.
type Source interface {
	Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func()
}

// Attach delivers the given event types from src. With no types it delivers
// xp_granted and level_up.
func (s *Sink) Attach(src Source, types ...core.EventType) func() {
	if len(types) == 0 {
		types = []core.EventType{core.EventXPGranted, core.EventLevelUp}
	}
	offs := make([]func(), 0, len(types))
	for _, typ := range types {
		offs = append(offs, src.Subscribe(typ, s.Deliver))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
