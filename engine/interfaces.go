package engine

import (
	"context"
	"time"

	"careerxp/core"
)

// Storage abstracts persistence of profiles and the XP log.
//
// ApplyGrant must upsert the profile and append the log entry as one unit,
// and must return core.ErrDuplicateGrant when an entry with the same
// (user, action, ref) already exists.
type Storage interface {
	GetProfile(ctx context.Context, user core.UserID) (core.Profile, error)
	HasGrantForRef(ctx context.Context, user core.UserID, action core.Action, refID string) (bool, error)
	CountGrantsSince(ctx context.Context, user core.UserID, action core.Action, since time.Time) (int, error)
	LastGrantAt(ctx context.Context, user core.UserID, action core.Action) (time.Time, bool, error)
	ApplyGrant(ctx context.Context, entry core.XPLogEntry) (core.Profile, error)
	ListGrants(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error)
}

// Observer receives every award outcome, granted or not.
type Observer interface {
	Observe(ctx context.Context, outcome core.Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, outcome core.Outcome)

func (f ObserverFunc) Observe(ctx context.Context, outcome core.Outcome) { f(ctx, outcome) }
