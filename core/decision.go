package core

// DeclineReason explains why a grant did not proceed.
type DeclineReason string

const (
	ReasonNone          DeclineReason = ""
	ReasonInvalidUser   DeclineReason = "invalid_user"
	ReasonUnknownAction DeclineReason = "unknown_action"
	ReasonMissingRefID  DeclineReason = "missing_ref_id"
	ReasonDuplicateRef  DeclineReason = "duplicate_ref"
	ReasonDailyCap      DeclineReason = "daily_cap_reached"
	ReasonCooldown      DeclineReason = "cooldown_active"
	// ReasonStorageError marks an outcome aborted by a storage failure.
	ReasonStorageError DeclineReason = "storage_error"
)

// Decision is the result of eligibility evaluation.
type Decision struct {
	Eligible bool          `json:"eligible"`
	Reason   DeclineReason `json:"reason,omitempty"`
	Rule     ActionRule    `json:"rule"`
}

// Eligible builds a passing decision.
func Eligible(rule ActionRule) Decision {
	return Decision{Eligible: true, Rule: rule}
}

// Declined builds a failing decision.
func Declined(reason DeclineReason, rule ActionRule) Decision {
	return Decision{Reason: reason, Rule: rule}
}

// Outcome describes one award attempt end to end.
type Outcome struct {
	UserID   UserID     `json:"user_id"`
	Action   Action     `json:"action"`
	RefID    string     `json:"ref_id,omitempty"`
	Decision Decision   `json:"decision"`
	Entry    XPLogEntry `json:"entry"`
	Before   Profile    `json:"before"`
	After    Profile    `json:"after"`
	Err      error      `json:"-"`
}

// Granted reports whether the attempt produced a durable grant.
func (o Outcome) Granted() bool { return o.Decision.Eligible && o.Err == nil }

// LeveledUp reports whether the grant raised the user's level.
func (o Outcome) LeveledUp() bool { return o.Granted() && o.After.Level > o.Before.Level }

// Reason returns the decline reason, or ReasonStorageError when a storage
// failure aborted an eligible grant.
func (o Outcome) Reason() DeclineReason {
	if o.Err != nil {
		return ReasonStorageError
	}
	return o.Decision.Reason
}
