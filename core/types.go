package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrEmptyUserID is returned when a user identifier is blank.
	ErrEmptyUserID = errors.New("empty user id")
	// ErrOverflow is returned when an XP total would overflow int64.
	ErrOverflow = errors.New("integer overflow in AddSafe")
	// ErrDuplicateGrant is returned by storage when a (user, action, ref)
	// grant already exists.
	ErrDuplicateGrant = errors.New("duplicate xp grant")
)

// UserID uniquely identifies a user. The identity provider owns its format.
type UserID string

// Action identifies an XP-earning user action.
type Action string

const (
	ActionESSubmitted            Action = "es_submitted"
	ActionInterviewLog           Action = "interview_log"
	ActionAptitudeComplete       Action = "aptitude_complete"
	ActionSelfAnalysisComplete   Action = "self_analysis_complete"
	ActionCompanyNew             Action = "company_new"
	ActionWebtestQuestionCreate  Action = "webtest_question_create"
	ActionWebtestAttemptComplete Action = "webtest_attempt_complete"
)

// Actions lists every known action in a stable order.
func Actions() []Action {
	return []Action{
		ActionESSubmitted,
		ActionInterviewLog,
		ActionAptitudeComplete,
		ActionSelfAnalysisComplete,
		ActionCompanyNew,
		ActionWebtestQuestionCreate,
		ActionWebtestAttemptComplete,
	}
}

// ParseAction maps a wire string to a known Action.
func ParseAction(s string) (Action, bool) {
	s = strings.TrimSpace(s)
	for _, a := range Actions() {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Profile is the per-user cumulative XP record.
type Profile struct {
	UserID    UserID    `json:"user_id"`
	XP        int64     `json:"xp"`
	Level     int64     `json:"level"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// EmptyProfile is what a user without any grant reads as.
func EmptyProfile(user UserID) Profile {
	return Profile{UserID: user, XP: 0, Level: 1}
}

// XPLogEntry is one immutable grant record.
type XPLogEntry struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"user_id"`
	Action    Action    `json:"action"`
	XP        int64     `json:"xp"`
	RefID     string    `json:"ref_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasRef reports whether the entry is tied to a concrete record.
func (e XPLogEntry) HasRef() bool { return e.RefID != "" }

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	return base + delta, nil
}

// NormalizeUserID trims surrounding whitespace. Case is preserved because
// ids come from the identity provider verbatim.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyUserID
	}
	return UserID(s), nil
}

// NormalizeRefID trims the caller-supplied reference id.
func NormalizeRefID(ref string) string {
	return strings.TrimSpace(ref)
}
