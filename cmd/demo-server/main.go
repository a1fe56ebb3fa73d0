package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"careerxp/analytics"
	"careerxp/api/httpapi"
	"careerxp/core"
	"careerxp/engine"
	"careerxp/gamify"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

// step is one scripted award the demo replays at startup.
type step struct {
	user   core.UserID
	action core.Action
	ref    string
}

// script walks through grants, a duplicate, a cooldown and a daily cap.
func script() []step {
	steps := []step{
		{"alice", core.ActionESSubmitted, "es-1"},
		{"alice", core.ActionESSubmitted, "es-1"},
		{"alice", core.ActionAptitudeComplete, ""},
		{"alice", core.ActionAptitudeComplete, ""},
		{"bob", core.ActionInterviewLog, ""},
		{"bob", core.ActionSelfAnalysisComplete, ""},
	}
	for i := 1; i <= 6; i++ {
		steps = append(steps, step{"bob", core.ActionCompanyNew, fmt.Sprintf("co-%d", i)})
	}
	return steps
}

func main() {
	// Use readable text logging for development/demo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	stats := analytics.NewDailyAggregator(time.UTC, 7)
	svc := gamify.New(
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithObserver(stats),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithLogger(logger),
	)
	defer svc.Close()

	ctx := context.Background()
	for _, s := range script() {
		out := svc.Award(ctx, s.user, s.action, engine.WithRefID(s.ref))
		if out.Granted() {
			logger.Info("demo award", "user", s.user, "action", s.action, "xp", out.Entry.XP, "total", out.After.XP, "level", out.After.Level)
			continue
		}
		logger.Info("demo award declined", "user", s.user, "action", s.action, "reason", out.Reason())
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewMux(svc, hub, httpapi.Options{
		AllowCORSOrigin: "*",
		Leaderboard:     board,
		Stats:           stats,
	}))

	logger.Info("starting demo server on :8080", "leaderboard_size", board.Len())

	srv := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}
