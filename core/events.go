package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventXPGranted EventType = "xp_granted"
	EventLevelUp   EventType = "level_up"
)

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	Action   Action         `json:"action,omitempty"`
	RefID    string         `json:"ref_id,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Level    int64          `json:"level,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewXPGranted(entry XPLogEntry, total int64, level int64) Event {
	return Event{
		Type:   EventXPGranted,
		Time:   entry.CreatedAt.UTC(),
		UserID: entry.UserID,
		Action: entry.Action,
		RefID:  entry.RefID,
		Delta:  entry.XP,
		Total:  total,
		Level:  level,
	}
}

func NewLevelUp(user UserID, total int64, level int64, at time.Time) Event {
	return Event{Type: EventLevelUp, Time: at.UTC(), UserID: user, Total: total, Level: level}
}
