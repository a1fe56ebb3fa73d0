package gamify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	mem "careerxp/adapters/memory"
	"careerxp/core"
	"careerxp/engine"
	"careerxp/integrations/webhook"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	var observed atomic.Int32
	svc := New(
		WithRealtime(hub),
		WithLeaderboard(board),
		WithStorage(mem.New()),
		WithDispatchMode(engine.DispatchSync),
		WithObserver(engine.ObserverFunc(func(context.Context, core.Outcome) { observed.Add(1) })),
		WithLogger(quiet()),
	)
	defer svc.Close()

	_, ch := hub.Subscribe(4, nil)
	out := svc.Award(context.Background(), "alice", core.ActionESSubmitted, engine.WithRefID("es-1"))
	if !out.Granted() || out.After.XP != 25 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	ev := <-ch
	if ev.UserID != "alice" || ev.Type != core.EventXPGranted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if e, ok := board.Get("alice"); !ok || e.XP != 25 {
		t.Fatalf("leaderboard not fed: %+v %v", e, ok)
	}
	if observed.Load() != 1 {
		t.Fatalf("expected one observed outcome, got %d", observed.Load())
	}
}

func TestInMemoryFallback(t *testing.T) {
	svc := New(WithLogger(quiet()))
	defer svc.Close()
	svc.AwardXP(context.Background(), "bob", core.ActionAptitudeComplete)
	p, err := svc.Profile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("fallback profile: %v", err)
	}
	if p.XP != 30 {
		t.Fatalf("expected 30 xp, got %d", p.XP)
	}
}

func TestCustomRulesAndSeededBoard(t *testing.T) {
	store := mem.New()
	_, _ = store.ApplyGrant(context.Background(), core.XPLogEntry{ID: "x", UserID: "carol", Action: core.ActionCompanyNew, XP: 40, RefID: "c", CreatedAt: time.Now()})

	board := leaderboard.NewSkipList()
	rules := core.MustRuleTable(core.ActionRule{Action: core.ActionCompanyNew, Amount: 100, RequireRefID: true})
	svc := New(WithStorage(store), WithRules(rules), WithLeaderboard(board), WithDispatchMode(engine.DispatchSync), WithLogger(quiet()))
	defer svc.Close()

	if e, ok := board.Get("carol"); !ok || e.XP != 40 {
		t.Fatalf("board not seeded: %+v %v", e, ok)
	}
	out := svc.Award(context.Background(), "dave", core.ActionCompanyNew, engine.WithRefID("c-9"))
	if !out.Granted() || out.Entry.XP != 100 {
		t.Fatalf("custom rule not applied: %+v", out)
	}
	if out := svc.Award(context.Background(), "dave", core.ActionESSubmitted, engine.WithRefID("es")); out.Reason() != core.ReasonUnknownAction {
		t.Fatalf("action outside table should be unknown, got %q", out.Reason())
	}
}

func TestWebhookWiring(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	svc := New(
		WithWebhook(webhook.New([]string{srv.URL}, webhook.WithLogger(quiet()))),
		WithDispatchMode(engine.DispatchSync),
		WithLogger(quiet()),
	)
	defer svc.Close()

	svc.AwardXP(context.Background(), "erin", core.ActionInterviewLog, engine.WithRefID("iv-1"))
	if hits.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", hits.Load())
	}
}
