package leaderboard

import (
	"context"
	"fmt"

	"careerxp/core"
)

// Entry is one ranked user. Rank is 1-based and only set on reads.
type Entry struct {
	User  core.UserID `json:"user_id"`
	XP    int64       `json:"xp"`
	Level int64       `json:"level"`
	Rank  int         `json:"rank,omitempty"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, xp int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Len() int
}

// Source is anything that can deliver typed events to a handler.
type Source interface {
	Subscribe(typ core.EventType, fn func(context.Context, core.Event)) func()
}

// Feed keeps b in step with xp_granted events. The returned func detaches.
func Feed(b Board, src Source) func() {
	return src.Subscribe(core.EventXPGranted, func(_ context.Context, e core.Event) {
		b.Update(e.UserID, e.Total)
	})
}

// ProfileLister is implemented by storage adapters that can list top profiles.
type ProfileLister interface {
	TopProfiles(ctx context.Context, limit int) ([]core.Profile, error)
}

// Seed loads up to limit stored profiles into b, so a restarted process
// does not start from an empty board.
func Seed(ctx context.Context, b Board, src ProfileLister, limit int) error {
	profiles, err := src.TopProfiles(ctx, limit)
	if err != nil {
		return fmt.Errorf("seed leaderboard: %w", err)
	}
	for _, p := range profiles {
		b.Update(p.UserID, p.XP)
	}
	return nil
}
