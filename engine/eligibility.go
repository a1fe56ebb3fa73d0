package engine

import (
	"context"
	"fmt"
	"time"

	"careerxp/core"
)

// Evaluate decides whether req may be granted right now. Checks run in order
// and stop at the first decline; all of them are read-only. The error is
// non-nil only when storage could not answer.
func (s *Service) Evaluate(ctx context.Context, req Request) (core.Decision, error) {
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		return core.Declined(core.ReasonInvalidUser, core.ActionRule{}), nil
	}

	rule, ok := s.rules.Lookup(req.Action)
	if !ok {
		return core.Declined(core.ReasonUnknownAction, core.ActionRule{}), nil
	}

	ref := core.NormalizeRefID(req.RefID)
	if rule.RequireRefID && ref == "" {
		return core.Declined(core.ReasonMissingRefID, rule), nil
	}

	if ref != "" {
		dup, err := s.storage.HasGrantForRef(ctx, user, rule.Action, ref)
		if err != nil {
			return core.Declined(core.ReasonStorageError, rule), fmt.Errorf("duplicate check: %w", err)
		}
		if dup {
			return core.Declined(core.ReasonDuplicateRef, rule), nil
		}
	}

	now := s.now()

	if rule.HasDailyCap() {
		count, err := s.storage.CountGrantsSince(ctx, user, rule.Action, StartOfDay(now, s.loc))
		if err != nil {
			return core.Declined(core.ReasonStorageError, rule), fmt.Errorf("daily cap check: %w", err)
		}
		if count >= rule.DailyCap {
			return core.Declined(core.ReasonDailyCap, rule), nil
		}
	}

	if rule.HasCooldown() {
		last, found, err := s.storage.LastGrantAt(ctx, user, rule.Action)
		if err != nil {
			return core.Declined(core.ReasonStorageError, rule), fmt.Errorf("cooldown check: %w", err)
		}
		if found && InCooldown(last, now, rule.CooldownDays) {
			return core.Declined(core.ReasonCooldown, rule), nil
		}
	}

	return core.Eligible(rule), nil
}

// StartOfDay returns local midnight of t in loc, as UTC.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).UTC()
}

// InCooldown reports whether last falls within the days-long window ending at now.
func InCooldown(last, now time.Time, days int) bool {
	if days <= 0 {
		return false
	}
	return now.Sub(last) < time.Duration(days)*24*time.Hour
}
