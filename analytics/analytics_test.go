package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerxp/core"
)

var day = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func granted(user core.UserID, action core.Action, xp, beforeXP int64, at time.Time) core.Outcome {
	rule, _ := core.DefaultRules().Lookup(action)
	after := beforeXP + xp
	return core.Outcome{
		UserID:   user,
		Action:   action,
		Decision: core.Eligible(rule),
		Entry:    core.XPLogEntry{ID: "e", UserID: user, Action: action, XP: xp, CreatedAt: at},
		Before:   core.Profile{UserID: user, XP: beforeXP, Level: core.Level(beforeXP)},
		After:    core.Profile{UserID: user, XP: after, Level: core.Level(after)},
	}
}

func declined(user core.UserID, action core.Action, reason core.DeclineReason) core.Outcome {
	return core.Outcome{UserID: user, Action: action, Decision: core.Declined(reason, core.ActionRule{})}
}

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	ctx := context.Background()

	m.Observe(ctx, granted("u1", core.ActionInterviewLog, 10, 45, day))
	m.Observe(ctx, granted("u1", core.ActionESSubmitted, 25, 0, day))
	m.Observe(ctx, declined("u1", core.ActionCompanyNew, core.ReasonDailyCap))
	m.Observe(ctx, declined("u1", "bogus_action", core.ReasonUnknownAction))
	m.Observe(ctx, core.Outcome{UserID: "u1", Action: core.ActionESSubmitted, Err: errors.New("db down")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues(string(core.ActionInterviewLog))))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.xp.WithLabelValues(string(core.ActionESSubmitted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.levelUps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.declines.WithLabelValues(string(core.ActionCompanyNew), string(core.ReasonDailyCap))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.declines.WithLabelValues(unknownActionLabel, string(core.ReasonUnknownAction))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(string(core.ActionESSubmitted))))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	second.Observe(context.Background(), granted("u1", core.ActionESSubmitted, 25, 0, day))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.grants.WithLabelValues(string(core.ActionESSubmitted))))
}

func TestDailyAggregator(t *testing.T) {
	a := NewDailyAggregator(time.UTC, 2)
	a.now = func() time.Time { return day }
	ctx := context.Background()

	a.Observe(ctx, granted("u1", core.ActionInterviewLog, 10, 45, day))
	a.Observe(ctx, granted("u2", core.ActionESSubmitted, 25, 0, day))
	a.Observe(ctx, granted("u1", core.ActionESSubmitted, 25, 55, day))
	a.Observe(ctx, declined("u3", core.ActionCompanyNew, core.ReasonDailyCap))
	a.Observe(ctx, core.Outcome{UserID: "u3", Action: core.ActionESSubmitted, Err: errors.New("db down")})

	s := a.Today()
	assert.Equal(t, "2026-10-14", s.Day)
	assert.Equal(t, int64(3), s.Grants)
	assert.Equal(t, int64(60), s.XPAwarded)
	assert.Equal(t, int64(1), s.LevelUps)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, 2, s.ActiveUsers)
	assert.Equal(t, int64(2), s.GrantsByAction[core.ActionESSubmitted])
	assert.Equal(t, int64(1), s.DeclinesByCause[core.ReasonDailyCap])

	// copies are detached from the live bucket
	s.GrantsByAction[core.ActionESSubmitted] = 99
	assert.Equal(t, int64(2), a.Today().GrantsByAction[core.ActionESSubmitted])
}

func TestDailyAggregatorLocationAndRetention(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	a := NewDailyAggregator(jst, 2)
	ctx := context.Background()

	// 16:00 UTC is already the next day in JST
	a.Observe(ctx, granted("u1", core.ActionESSubmitted, 25, 0, time.Date(2026, 10, 12, 16, 0, 0, 0, time.UTC)))
	a.Observe(ctx, granted("u1", core.ActionESSubmitted, 25, 25, time.Date(2026, 10, 13, 16, 0, 0, 0, time.UTC)))
	a.Observe(ctx, granted("u1", core.ActionESSubmitted, 25, 50, time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC)))

	days := a.Days()
	require.Len(t, days, 2)
	assert.Equal(t, "2026-10-14", days[0].Day)
	assert.Equal(t, "2026-10-15", days[1].Day)
	assert.Zero(t, a.Summary("2026-10-13").Grants)
}
