package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"careerxp/core"
)

// Service is the XP award engine: rule lookup, eligibility, and grant.
type Service struct {
	storage   Storage
	rules     core.RuleTable
	bus       *EventBus
	logger    *slog.Logger
	now       func() time.Time
	loc       *time.Location
	newID     func() string
	observers []Observer
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the location whose midnight bounds daily caps. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger used for grant/decline records.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator overrides log entry id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func NewService(storage Storage, rules core.RuleTable, bus *EventBus, opts ...Option) *Service {
	if storage == nil || bus == nil {
		panic("NewService requires non-nil storage and bus")
	}
	s := &Service{
		storage: storage,
		rules:   rules,
		bus:     bus,
		logger:  slog.Default(),
		now:     time.Now,
		loc:     time.UTC,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AwardOption configures a single award call.
type AwardOption func(*Request)

// WithRefID ties the award to the record that triggered it.
func WithRefID(ref string) AwardOption {
	return func(r *Request) { r.RefID = ref }
}

// Request is the input of the eligibility evaluator.
type Request struct {
	UserID core.UserID
	Action core.Action
	RefID  string
}

func newRequest(user core.UserID, action core.Action, opts []AwardOption) Request {
	r := Request{UserID: user, Action: action}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// AwardXP credits the user for action if the rule allows it.
// It never returns or raises an error: XP bookkeeping must not fail the
// caller's primary operation.
func (s *Service) AwardXP(ctx context.Context, user core.UserID, action core.Action, opts ...AwardOption) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "xp award panicked",
				"user_id", user, "action", action, "panic", fmt.Sprint(r))
		}
	}()
	s.Award(ctx, user, action, opts...)
}

// Award does the work of AwardXP and reports what happened.
func (s *Service) Award(ctx context.Context, user core.UserID, action core.Action, opts ...AwardOption) core.Outcome {
	req := newRequest(user, action, opts)
	req.RefID = core.NormalizeRefID(req.RefID)
	if normalized, err := core.NormalizeUserID(req.UserID); err == nil {
		req.UserID = normalized
	}
	out := core.Outcome{UserID: req.UserID, Action: req.Action, RefID: req.RefID}

	decision, err := s.Evaluate(ctx, req)
	out.Decision = decision
	if err != nil {
		out.Err = fmt.Errorf("evaluate eligibility: %w", err)
		s.finish(ctx, out)
		return out
	}
	if !decision.Eligible {
		s.finish(ctx, out)
		return out
	}

	out = s.grant(ctx, out)
	s.finish(ctx, out)
	return out
}

// Profile returns the user's cumulative XP state.
func (s *Service) Profile(ctx context.Context, user core.UserID) (core.Profile, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Profile{}, err
	}
	return s.storage.GetProfile(ctx, normalized)
}

// History returns the user's most recent grants, newest first.
func (s *Service) History(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.storage.ListGrants(ctx, normalized, limit)
}

// Rules returns the reward table.
func (s *Service) Rules() []core.ActionRule { return s.rules.Rules() }

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, fn)
}

func (s *Service) Close() { s.bus.Close() }

// finish logs the outcome at the call site and notifies observers.
func (s *Service) finish(ctx context.Context, out core.Outcome) {
	attrs := []any{"user_id", out.UserID, "action", out.Action}
	if out.RefID != "" {
		attrs = append(attrs, "ref_id", out.RefID)
	}
	switch {
	case out.Err != nil:
		s.logger.WarnContext(ctx, "xp grant failed", append(attrs, "error", out.Err)...)
	case out.Granted():
		s.logger.InfoContext(ctx, "xp granted", append(attrs, "xp", out.Entry.XP, "total", out.After.XP, "level", out.After.Level)...)
	default:
		s.logger.DebugContext(ctx, "xp grant declined", append(attrs, "reason", out.Decision.Reason)...)
	}
	for _, o := range s.observers {
		o.Observe(ctx, out)
	}
}
