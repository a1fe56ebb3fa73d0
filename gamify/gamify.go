package gamify

import (
	"context"
	"log/slog"
	"time"

	"careerxp/adapters/memory"
	"careerxp/core"
	"careerxp/engine"
	"careerxp/integrations/webhook"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

// seedLimit bounds how many stored profiles prefill the leaderboard.
const seedLimit = 1000

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	rules     *core.RuleTable
	mode      engine.DispatchMode
	hub       *realtime.Hub
	board     leaderboard.Board
	sinks     []*webhook.Sink
	observers []engine.Observer
	loc       *time.Location
	logger    *slog.Logger
	clock     func() time.Time
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRules replaces the default reward table.
func WithRules(r core.RuleTable) Option { return func(c *config) { c.rules = &r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive grant and level-up events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLeaderboard keeps b updated from grants, seeded from storage when the
// adapter can list profiles.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithWebhook delivers grant and level-up events through s.
func WithWebhook(s *webhook.Sink) Option {
	return func(c *config) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithObserver registers an outcome observer such as analytics.Metrics.
func WithObserver(o engine.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithLocation sets the day boundary used by daily caps.
func WithLocation(loc *time.Location) Option { return func(c *config) { c.loc = loc } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithClock overrides the engine time source.
func WithClock(now func() time.Time) Option { return func(c *config) { c.clock = now } }

// New builds a configured award Service. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: core.DefaultRules
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync, logger: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	rules := core.DefaultRules()
	if cfg.rules != nil {
		rules = *cfg.rules
	}

	svcOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithLocation(cfg.loc),
		engine.WithClock(cfg.clock),
	}
	for _, o := range cfg.observers {
		svcOpts = append(svcOpts, engine.WithObserver(o))
	}
	svc := engine.NewService(cfg.storage, rules, engine.NewEventBus(cfg.mode), svcOpts...)

	if cfg.hub != nil {
		cfg.hub.Attach(svc)
	}
	for _, s := range cfg.sinks {
		s.Attach(svc)
	}
	if cfg.board != nil {
		if lister, ok := cfg.storage.(leaderboard.ProfileLister); ok {
			if err := leaderboard.Seed(context.Background(), cfg.board, lister, seedLimit); err != nil {
				cfg.logger.Warn("leaderboard seed failed", "error", err)
			}
		}
		leaderboard.Feed(cfg.board, svc)
	}
	return svc
}
