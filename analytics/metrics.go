package analytics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"careerxp/core"
)

const unknownActionLabel = "unknown"

// Metrics exports award outcomes as prometheus counters.
type Metrics struct {
	grants   *prometheus.CounterVec
	declines *prometheus.CounterVec
	xp       *prometheus.CounterVec
	failures *prometheus.CounterVec
	levelUps prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg.
// Passing nil registers on prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careerxp_grants_total",
		Help: "XP grants applied, by action",
	}, []string{"action"})
	declines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careerxp_declines_total",
		Help: "Award attempts declined by a rule, by action and reason",
	}, []string{"action", "reason"})
	xp := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careerxp_xp_awarded_total",
		Help: "XP credited, by action",
	}, []string{"action"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "careerxp_storage_failures_total",
		Help: "Award attempts aborted by a storage error, by action",
	}, []string{"action"})
	levelUps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "careerxp_level_ups_total",
		Help: "Grants that raised a user's level",
	})

	m := &Metrics{}
	var err error
	if m.grants, err = register(reg, grants); err != nil {
		return nil, err
	}
	if m.declines, err = register(reg, declines); err != nil {
		return nil, err
	}
	if m.xp, err = register(reg, xp); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, failures); err != nil {
		return nil, err
	}
	if m.levelUps, err = register(reg, levelUps); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses a collector already registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements engine.Observer.
func (m *Metrics) Observe(_ context.Context, out core.Outcome) {
	action := actionLabel(out)
	switch {
	case out.Err != nil:
		m.failures.WithLabelValues(action).Inc()
	case out.Granted():
		m.grants.WithLabelValues(action).Inc()
		m.xp.WithLabelValues(action).Add(float64(out.Entry.XP))
		if out.LeveledUp() {
			m.levelUps.Inc()
		}
	default:
		m.declines.WithLabelValues(action, string(out.Reason())).Inc()
	}
}

// actionLabel keeps label cardinality bounded by the known action set.
func actionLabel(out core.Outcome) string {
	if _, ok := core.ParseAction(string(out.Action)); !ok {
		return unknownActionLabel
	}
	return string(out.Action)
}
