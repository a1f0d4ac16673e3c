package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Priority orders recovery delivery. Higher values are recovered first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// ErrInvalidPriority indicates an unrecognized priority name.
var ErrInvalidPriority = errors.New("events: invalid priority")

// ParsePriority maps a priority name to its value.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LOW":
		return PriorityLow, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "CRITICAL":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, value)
	}
}

// String returns the canonical priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// Event is a durable single-recipient notification. Rows are append-only
// except for the one-shot is_read transition.
type Event struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventType    string     `gorm:"column:event_type;size:64;not null;index:idx_events_recovery,priority:2"`
	PayloadJSON  string     `gorm:"column:payload_json;type:text;not null"`
	TargetUserID int64      `gorm:"column:target_user_id;not null;index:idx_events_recovery,priority:1"`
	Priority     Priority   `gorm:"column:priority;not null"`
	IsRead       bool       `gorm:"column:is_read;not null;default:false;index:idx_events_recovery,priority:3"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// IsExpired reports whether the event's expiry, if any, has passed.
func (e *Event) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// IsTerminal reports whether the event is read or expired and therefore
// must never be pushed to a connection.
func (e *Event) IsTerminal(now time.Time) bool {
	return e.IsRead || e.IsExpired(now)
}
