package core

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRule is returned by NewRuleTable for malformed rules.
var ErrInvalidRule = errors.New("invalid action rule")

// ActionRule describes how an action is rewarded.
// Zero DailyCap or CooldownDays means the limit is not defined.
type ActionRule struct {
	Action       Action `json:"action"`
	Amount       int64  `json:"amount"`
	RequireRefID bool   `json:"require_ref_id"`
	DailyCap     int    `json:"daily_cap,omitempty"`
	CooldownDays int    `json:"cooldown_days,omitempty"`
}

// HasDailyCap reports whether the rule limits grants per calendar day.
func (r ActionRule) HasDailyCap() bool { return r.DailyCap > 0 }

// HasCooldown reports whether the rule enforces a minimum gap in days.
func (r ActionRule) HasCooldown() bool { return r.CooldownDays > 0 }

func (r ActionRule) validate() error {
	if r.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidRule)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: %s amount must be positive", ErrInvalidRule, r.Action)
	}
	if r.DailyCap < 0 {
		return fmt.Errorf("%w: %s daily cap must not be negative", ErrInvalidRule, r.Action)
	}
	if r.CooldownDays < 0 {
		return fmt.Errorf("%w: %s cooldown must not be negative", ErrInvalidRule, r.Action)
	}
	return nil
}

// RuleTable is an immutable action -> rule lookup.
// The zero value has no rules.
type RuleTable struct {
	rules map[Action]ActionRule
}

// NewRuleTable validates and freezes the given rules.
func NewRuleTable(rules ...ActionRule) (RuleTable, error) {
	m := make(map[Action]ActionRule, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return RuleTable{}, err
		}
		if _, dup := m[r.Action]; dup {
			return RuleTable{}, fmt.Errorf("%w: duplicate rule for %s", ErrInvalidRule, r.Action)
		}
		m[r.Action] = r
	}
	return RuleTable{rules: m}, nil
}

// MustRuleTable is NewRuleTable that panics on error; for compiled-in tables.
func MustRuleTable(rules ...ActionRule) RuleTable {
	t, err := NewRuleTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultRules is the compiled-in reward table of the tracker.
func DefaultRules() RuleTable {
	return MustRuleTable(
		ActionRule{Action: ActionESSubmitted, Amount: 25, RequireRefID: true},
		ActionRule{Action: ActionInterviewLog, Amount: 10, RequireRefID: true},
		ActionRule{Action: ActionAptitudeComplete, Amount: 30, CooldownDays: 7},
		ActionRule{Action: ActionSelfAnalysisComplete, Amount: 20, CooldownDays: 1},
		ActionRule{Action: ActionCompanyNew, Amount: 5, RequireRefID: true, DailyCap: 5},
		ActionRule{Action: ActionWebtestQuestionCreate, Amount: 3, RequireRefID: true, DailyCap: 10},
		ActionRule{Action: ActionWebtestAttemptComplete, Amount: 10, RequireRefID: true, DailyCap: 10},
	)
}

// Lookup returns the rule for action, if any.
func (t RuleTable) Lookup(action Action) (ActionRule, bool) {
	r, ok := t.rules[action]
	return r, ok
}

// Len returns the number of rules.
func (t RuleTable) Len() int { return len(t.rules) }

// Rules returns a copy of all rules sorted by action.
func (t RuleTable) Rules() []ActionRule {
	out := make([]ActionRule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
