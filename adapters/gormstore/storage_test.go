package gormstore_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerxp/adapters/gormstore"
	"careerxp/core"
	"careerxp/engine"
)

var _ engine.Storage = (*gormstore.Store)(nil)

func openStore(t *testing.T) *gormstore.Store {
	t.Helper()
	s, err := gormstore.Open(gormstore.Config{
		Dialect: gormstore.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "xp.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormApplyGrantAndDuplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Level)
	assert.Zero(t, p.XP)

	p, err = s.ApplyGrant(ctx, core.XPLogEntry{ID: "a", UserID: "u1", Action: core.ActionInterviewLog, XP: 45, RefID: "iv-1", CreatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, int64(45), p.XP)
	assert.Equal(t, int64(1), p.Level)

	p, err = s.ApplyGrant(ctx, core.XPLogEntry{ID: "b", UserID: "u1", Action: core.ActionInterviewLog, XP: 10, RefID: "iv-2", CreatedAt: at.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, int64(55), p.XP)
	assert.Equal(t, int64(2), p.Level)

	_, err = s.ApplyGrant(ctx, core.XPLogEntry{ID: "c", UserID: "u1", Action: core.ActionInterviewLog, XP: 10, RefID: "iv-2", CreatedAt: at.Add(2 * time.Minute)})
	require.ErrorIs(t, err, core.ErrDuplicateGrant)

	stored, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(55), stored.XP)
	assert.Equal(t, int64(2), stored.Level)

	logs, err := s.ListGrants(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].ID)
}

func TestGormNullRefsDoNotCollide(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.ApplyGrant(ctx, core.XPLogEntry{ID: "a", UserID: "u1", Action: core.ActionAptitudeComplete, XP: 30, CreatedAt: at})
	require.NoError(t, err)
	_, err = s.ApplyGrant(ctx, core.XPLogEntry{ID: "b", UserID: "u1", Action: core.ActionAptitudeComplete, XP: 30, CreatedAt: at.Add(8 * 24 * time.Hour)})
	require.NoError(t, err)

	last, ok, err := s.LastGrantAt(ctx, "u1", core.ActionAptitudeComplete)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(at.Add(8*24*time.Hour)))

	logs, err := s.ListGrants(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].HasRef())
}

func TestGormEligibilityQueries(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	_, err := s.ApplyGrant(ctx, core.XPLogEntry{ID: "old", UserID: "u1", Action: core.ActionCompanyNew, XP: 5, RefID: "c-0", CreatedAt: day.Add(-time.Hour)})
	require.NoError(t, err)
	for i, ref := range []string{"c-1", "c-2"} {
		_, err := s.ApplyGrant(ctx, core.XPLogEntry{ID: ref, UserID: "u1", Action: core.ActionCompanyNew, XP: 5, RefID: ref, CreatedAt: day.Add(time.Duration(i+1) * time.Hour)})
		require.NoError(t, err)
	}

	n, err := s.CountGrantsSince(ctx, "u1", core.ActionCompanyNew, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	has, err := s.HasGrantForRef(ctx, "u1", core.ActionCompanyNew, "c-1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasGrantForRef(ctx, "u1", core.ActionESSubmitted, "c-1")
	require.NoError(t, err)
	assert.False(t, has)

	_, ok, err := s.LastGrantAt(ctx, "u2", core.ActionCompanyNew)
	require.NoError(t, err)
	assert.False(t, ok)

	top, err := s.TopProfiles(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(15), top[0].XP)
}

func TestGormEngineDailyCap(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	svc := engine.NewService(s, core.DefaultRules(), engine.NewEventBus(engine.DispatchSync),
		engine.WithClock(func() time.Time { return now }),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer svc.Close()

	refs := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for i, ref := range refs {
		now = now.Add(time.Minute)
		out := svc.Award(ctx, "user-1", core.ActionCompanyNew, engine.WithRefID(ref))
		require.NoError(t, out.Err)
		if i < 5 {
			assert.True(t, out.Granted(), "grant %d", i)
		} else {
			assert.Equal(t, core.ReasonDailyCap, out.Reason())
		}
	}

	p, err := svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), p.XP)

	out := svc.Award(ctx, "user-1", core.ActionCompanyNew, engine.WithRefID("c1"))
	assert.Equal(t, core.ReasonDuplicateRef, out.Reason())
}
