package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"careerxp/analytics"
	"careerxp/api/httpapi"
	"careerxp/config"
	"careerxp/engine"
	"careerxp/gamify"
	"careerxp/integrations/webhook"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
	Metrics *MetricsServer
}

// MetricsServer exposes the Prometheus registry on its own listener.
// A nil *MetricsServer means metrics are disabled.
type MetricsServer struct {
	*http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	return config.Resolve(ctx, config.Sources{Secrets: config.NewEnvironmentSecretStore()})
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	storage, err := setupStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := storage.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("storage close failed", "adapter", cfg.Storage.Adapter, "error", err)
			}
		}
	}
	return storage, cleanup, nil
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return reg
}

func provideMetrics(reg *prometheus.Registry) (*analytics.Metrics, error) {
	return analytics.NewMetrics(reg)
}

func provideStats(cfg *config.Config) (*analytics.DailyAggregator, error) {
	loc, err := cfg.XP.Location()
	if err != nil {
		return nil, err
	}
	return analytics.NewDailyAggregator(loc, cfg.XP.StatsRetentionDays), nil
}

func provideLeaderboard(cfg *config.Config) leaderboard.Board {
	if !cfg.XP.LeaderboardEnabled {
		return nil
	}
	return leaderboard.NewSkipList()
}

// webhookQueueSize bounds the deliveries waiting behind slow endpoints.
const webhookQueueSize = 256

func provideWebhook(cfg *config.Config, logger *slog.Logger) (*webhook.Sink, func()) {
	wh := cfg.Integrations.Webhooks
	if len(wh.Endpoints) == 0 {
		return nil, func() {}
	}
	sink := webhook.New(wh.Endpoints,
		webhook.WithClient(&http.Client{Timeout: wh.Timeout}),
		webhook.WithSecret(wh.Secret),
		webhook.WithLogger(logger),
		webhook.WithQueue(webhookQueueSize),
	)
	return sink, sink.Close
}

func provideService(
	cfg *config.Config,
	logger *slog.Logger,
	hub *realtime.Hub,
	storage engine.Storage,
	board leaderboard.Board,
	sink *webhook.Sink,
	metrics *analytics.Metrics,
	stats *analytics.DailyAggregator,
) (*engine.Service, func(), error) {
	loc, err := cfg.XP.Location()
	if err != nil {
		return nil, nil, err
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(engine.ParseDispatchMode(cfg.XP.DispatchMode)),
		gamify.WithWebhook(sink),
		gamify.WithObserver(metrics),
		gamify.WithObserver(stats),
		gamify.WithLocation(loc),
		gamify.WithLogger(logger),
	}
	if board != nil {
		opts = append(opts, gamify.WithLeaderboard(board))
	}
	svc := gamify.New(opts...)
	return svc, svc.Close, nil
}

func provideHandler(
	cfg *config.Config,
	svc *engine.Service,
	hub *realtime.Hub,
	storage engine.Storage,
	board leaderboard.Board,
	stats *analytics.DailyAggregator,
) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Leaderboard:      board,
		Stats:            stats,
	}
	if p, ok := storage.(interface{ Ping(context.Context) error }); ok {
		opts.Ping = p.Ping
	}
	return httpapi.NewMux(svc, hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry) *MetricsServer {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	attrs := []slog.Attr{slog.String("service", "careerxp"), slog.String("environment", string(cfg.Environment))}
	for k, v := range cfg.Logging.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	handler = handler.WithAttrs(attrs)

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupStorage creates the storage adapter named by configuration.
func setupStorage(cfg *config.Config) (engine.Storage, error) {
	return config.OpenStorage(cfg.Storage)
}
