package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"careerxp/core"
)

// AwardResult mirrors the POST /users/{id}/xp/{action} response.
// Declines are results, not errors; Reason says why.
type AwardResult struct {
	Granted   bool          `json:"granted"`
	Reason    string        `json:"reason,omitempty"`
	XP        int64         `json:"xp,omitempty"`
	LeveledUp bool          `json:"leveled_up,omitempty"`
	Profile   *core.Profile `json:"profile,omitempty"`
}

// RuleSet describes the reward table served by /rules.
type RuleSet struct {
	XPPerLevel int64             `json:"xp_per_level"`
	Rules      []core.ActionRule `json:"rules"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	XP     int64  `json:"xp"`
	Level  int64  `json:"level"`
	Rank   int    `json:"rank"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is returned for non-2xx responses that carry an error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
