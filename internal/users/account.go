package users

import (
	"strings"
	"time"
)

// Account maps an external identity (provider plus subject) to the canonical
// numeric user id that events are keyed by.
type Account struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Provider   string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_accounts_identity,priority:1"`
	Subject    string    `gorm:"column:subject;size:190;not null;uniqueIndex:idx_accounts_identity,priority:2"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
