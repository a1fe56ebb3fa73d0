package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerxp/core"
	"careerxp/engine"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type delivery struct {
	typ, sig string
	body     []byte
}

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	deliveries := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		deliveries <- delivery{typ: r.Header.Get(HeaderEvent), sig: r.Header.Get(HeaderSignature), body: body}
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithSecret("s3cret"), WithLogger(quiet()))
	ev := core.NewXPGranted(core.XPLogEntry{UserID: "u1", Action: core.ActionESSubmitted, XP: 25, RefID: "es-1", CreatedAt: time.Now()}, 25, 1)
	sink.OnEvent(context.Background(), ev)

	var d delivery
	select {
	case d = <-deliveries:
	default:
		t.Fatal("expected a delivery")
	}
	assert.Equal(t, string(core.EventXPGranted), d.typ)
	assert.Equal(t, Sign([]byte("s3cret"), d.body), d.sig)

	var got core.Event
	require.NoError(t, json.Unmarshal(d.body, &got))
	assert.Equal(t, core.UserID("u1"), got.UserID)
	assert.Equal(t, int64(25), got.Delta)
}

func TestSink_FailingEndpointDoesNotBlockOthers(t *testing.T) {
	var hits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer good.Close()

	sink := New([]string{bad.URL, good.URL}, WithLogger(quiet()))
	sink.OnEvent(context.Background(), core.NewLevelUp("u1", 50, 2, time.Now()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSink_AttachToBus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	bus := engine.NewEventBus(engine.DispatchSync)
	sink := New([]string{srv.URL}, WithLogger(quiet()))
	detach := sink.Attach(bus, core.EventLevelUp)

	bus.Publish(context.Background(), core.NewXPGranted(core.XPLogEntry{UserID: "u1", XP: 5, CreatedAt: time.Now()}, 5, 1))
	bus.Publish(context.Background(), core.NewLevelUp("u1", 50, 2, time.Now()))
	detach()
	bus.Publish(context.Background(), core.NewLevelUp("u1", 100, 3, time.Now()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSink_QueuedDeliveryDoesNotBlockPublisher(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	bus := engine.NewEventBus(engine.DispatchSync)
	sink := New([]string{srv.URL}, WithLogger(quiet()), WithQueue(8))
	defer sink.Attach(bus)()

	published := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), core.NewLevelUp("u1", 50, 2, time.Now()))
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish waited on a slow endpoint")
	}

	close(release)
	sink.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Zero(t, sink.Dropped())
}

func TestSink_FullQueueDrops(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithLogger(quiet()), WithQueue(1))
	ev := core.NewLevelUp("u1", 50, 2, time.Now())

	// first event occupies the worker, second fills the queue
	sink.Deliver(context.Background(), ev)
	<-started
	sink.Deliver(context.Background(), ev)
	sink.Deliver(context.Background(), ev)
	assert.Equal(t, int64(1), sink.Dropped())

	close(release)
	sink.Close()
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	// closed sinks ignore events
	sink.Deliver(context.Background(), ev)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSink_CanceledContextStillDelivers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithLogger(quiet()), WithQueue(1))
	ctx, cancel := context.WithCancel(context.Background())
	sink.Deliver(ctx, core.NewLevelUp("u1", 50, 2, time.Now()))
	cancel()
	sink.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
