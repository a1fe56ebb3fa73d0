package engine

import (
	"context"
	"errors"
	"fmt"

	"careerxp/core"
)

// grant persists an eligible outcome and publishes the resulting events.
func (s *Service) grant(ctx context.Context, out core.Outcome) core.Outcome {
	entry := core.XPLogEntry{
		ID:        s.newID(),
		UserID:    out.UserID,
		Action:    out.Decision.Rule.Action,
		XP:        out.Decision.Rule.Amount,
		RefID:     out.RefID,
		CreatedAt: s.now().UTC(),
	}

	after, err := s.storage.ApplyGrant(ctx, entry)
	if errors.Is(err, core.ErrDuplicateGrant) {
		// a concurrent writer won the race on the unique index
		out.Decision = core.Declined(core.ReasonDuplicateRef, out.Decision.Rule)
		return out
	}
	if err != nil {
		out.Err = fmt.Errorf("apply grant: %w", err)
		return out
	}

	beforeXP := after.XP - entry.XP
	out.Entry = entry
	out.After = after
	out.Before = core.Profile{UserID: out.UserID, XP: beforeXP, Level: core.Level(beforeXP)}

	s.bus.Publish(ctx, core.NewXPGranted(entry, after.XP, after.Level))
	if out.LeveledUp() {
		s.bus.Publish(ctx, core.NewLevelUp(out.UserID, after.XP, after.Level, entry.CreatedAt))
	}
	return out
}
