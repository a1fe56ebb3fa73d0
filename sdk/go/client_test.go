package sdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerxp/api/httpapi"
	"careerxp/core"
	"careerxp/engine"
	"careerxp/gamify"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

// newTestServer serves the real API over an in-memory engine.
func newTestServer(t *testing.T, apiKeys ...string) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	svc := gamify.New(
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(svc.Close)
	mux := http.NewServeMux()
	mux.Handle("/api/", httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", APIKeys: apiKeys, Leaderboard: board}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestClient_AwardProfileHistoryRulesLeaderboardHealth(t *testing.T) {
	srv, _ := newTestServer(t, "k1")

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := client.Award(ctx, "alice", "interview_log", "iv-1")
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(10), res.XP)
	require.NotNil(t, res.Profile)
	assert.Equal(t, int64(10), res.Profile.XP)

	res, err = client.Award(ctx, "alice", "interview_log", "iv-1")
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, "duplicate_ref", res.Reason)

	p, err := client.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.XP)
	assert.Equal(t, int64(1), p.Level)

	hist, err := client.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, core.ActionInterviewLog, hist[0].Action)

	rules, err := client.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(core.XPPerLevel), rules.XPPerLevel)
	assert.Len(t, rules.Rules, 7)

	top, err := client.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].UserID)
	assert.Equal(t, 1, top[0].Rank)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t, "k1")
	ctx := context.Background()

	_, err := NewClient(" ")
	require.Error(t, err)

	unauth, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	_, err = unauth.Rules(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)

	_, err = unauth.Award(ctx, "", "es_submitted", "x")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, hub := newTestServer(t)

	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "bob")
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_, err = client.Award(ctx, "alice", "aptitude_complete", "")
	require.NoError(t, err)
	_, err = client.Award(ctx, "bob", "self_analysis_complete", "")
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, core.EventXPGranted, evt.Type)
		assert.Equal(t, core.UserID("bob"), evt.UserID)
		assert.Equal(t, int64(20), evt.Delta)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://xp.example.com/api/ws", deriveWSURL("https://xp.example.com/api"))
	assert.Equal(t, "ws://localhost:8080/ws", deriveWSURL("http://localhost:8080/"))
}
