package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"careerxp/core"
)

// DailySummary aggregates one calendar day of award outcomes.
type DailySummary struct {
	Day             string                       `json:"day"` // "2006-01-02" in the aggregator's location
	Grants          int64                        `json:"grants"`
	XPAwarded       int64                        `json:"xp_awarded"`
	LevelUps        int64                        `json:"level_ups"`
	Failures        int64                        `json:"failures"`
	ActiveUsers     int                          `json:"active_users"`
	GrantsByAction  map[core.Action]int64        `json:"grants_by_action"`
	DeclinesByCause map[core.DeclineReason]int64 `json:"declines_by_reason"`
}

type dayBucket struct {
	summary DailySummary
	users   map[core.UserID]struct{}
}

// DailyAggregator keeps per-day outcome counts in memory, for the stats
// endpoint. Days older than the retention window are pruned.
type DailyAggregator struct {
	mu        sync.RWMutex
	loc       *time.Location
	now       func() time.Time
	retention int
	days      map[string]*dayBucket
}

// NewDailyAggregator keeps retention days bucketed by midnight in loc.
func NewDailyAggregator(loc *time.Location, retention int) *DailyAggregator {
	if loc == nil {
		loc = time.UTC
	}
	if retention <= 0 {
		retention = 30
	}
	return &DailyAggregator{loc: loc, now: time.Now, retention: retention, days: map[string]*dayBucket{}}
}

// Observe implements engine.Observer. A granted outcome is bucketed by its
// log entry time, anything else by the wall clock.
func (a *DailyAggregator) Observe(_ context.Context, out core.Outcome) {
	at := a.now()
	if out.Granted() {
		at = out.Entry.CreatedAt
	}
	key := at.In(a.loc).Format(time.DateOnly)

	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bucket(key)
	switch {
	case out.Err != nil:
		b.summary.Failures++
	case out.Granted():
		b.summary.Grants++
		b.summary.XPAwarded += out.Entry.XP
		b.summary.GrantsByAction[out.Action]++
		if out.LeveledUp() {
			b.summary.LevelUps++
		}
		b.users[out.UserID] = struct{}{}
	default:
		b.summary.DeclinesByCause[out.Reason()]++
	}
	a.pruneLocked()
}

func (a *DailyAggregator) bucket(key string) *dayBucket {
	b, ok := a.days[key]
	if !ok {
		b = &dayBucket{
			summary: DailySummary{
				Day:             key,
				GrantsByAction:  map[core.Action]int64{},
				DeclinesByCause: map[core.DeclineReason]int64{},
			},
			users: map[core.UserID]struct{}{},
		}
		a.days[key] = b
	}
	return b
}

func (a *DailyAggregator) pruneLocked() {
	if len(a.days) <= a.retention {
		return
	}
	keys := make([]string, 0, len(a.days))
	for k := range a.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-a.retention] {
		delete(a.days, k)
	}
}

// Summary returns a copy of one day's figures. Unknown days are zero-valued.
func (a *DailyAggregator) Summary(day string) DailySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.days[day]
	if !ok {
		return DailySummary{Day: day, GrantsByAction: map[core.Action]int64{}, DeclinesByCause: map[core.DeclineReason]int64{}}
	}
	return b.snapshot()
}

// Today returns the summary for the current day in the aggregator's location.
func (a *DailyAggregator) Today() DailySummary {
	return a.Summary(a.now().In(a.loc).Format(time.DateOnly))
}

// Days lists retained summaries, oldest first.
func (a *DailyAggregator) Days() []DailySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]DailySummary, 0, len(a.days))
	for _, b := range a.days {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func (b *dayBucket) snapshot() DailySummary {
	s := b.summary
	s.ActiveUsers = len(b.users)
	s.GrantsByAction = make(map[core.Action]int64, len(b.summary.GrantsByAction))
	for k, v := range b.summary.GrantsByAction {
		s.GrantsByAction[k] = v
	}
	s.DeclinesByCause = make(map[core.DeclineReason]int64, len(b.summary.DeclinesByCause))
	for k, v := range b.summary.DeclinesByCause {
		s.DeclinesByCause[k] = v
	}
	return s
}
