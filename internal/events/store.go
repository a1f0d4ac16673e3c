package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store is the persistence boundary consumed by the Manager. Every method is
// one logical unit of work; implementations must not hold transactions open
// across queue operations.
type Store interface {
	// Save persists the event, assigning its id on first write. Saving an
	// event that already has an id updates the existing row.
	Save(ctx context.Context, event *Event) error
	// MarkRead flips is_read for an event owned by userID. It reports false
	// when the event is already read or does not belong to the caller.
	MarkRead(ctx context.Context, eventID, userID int64) (bool, error)
	// MarkReadBatch flips is_read for the listed events owned by userID,
	// silently ignoring ids the caller does not own. Returns the update count.
	MarkReadBatch(ctx context.Context, eventIDs []int64, userID int64) (int64, error)
	// FindPending returns the user's unread, unexpired events of eventType,
	// ordered by priority descending then creation ascending.
	FindPending(ctx context.Context, userID int64, eventType string, now time.Time) ([]Event, error)
	// PurgeTerminal deletes every read or expired row and returns the count.
	PurgeTerminal(ctx context.Context, now time.Time) (int64, error)
}

var errMissingDatabase = errors.New("events: database handle is required")

// GormStoreConfig describes the dependencies of the gorm-backed store.
type GormStoreConfig struct {
	Database *gorm.DB
}

// GormStore implements Store on a gorm database handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs the store after validating its dependencies.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: cfg.Database}, nil
}

// Save persists the event, assigning Event.ID on first insert.
func (s *GormStore) Save(ctx context.Context, event *Event) error {
	if err := s.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("events: save event: %w", err)
	}
	return nil
}

// MarkRead flips is_read once for an event owned by userID.
func (s *GormStore) MarkRead(ctx context.Context, eventID, userID int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Event{}).
		Where("id = ? AND target_user_id = ? AND is_read = ?", eventID, userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return false, fmt.Errorf("events: mark read: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkReadBatch flips is_read for the caller-owned subset of eventIDs.
func (s *GormStore) MarkReadBatch(ctx context.Context, eventIDs []int64, userID int64) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&Event{}).
		Where("id IN ? AND target_user_id = ? AND is_read = ?", eventIDs, userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("events: mark read batch: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FindPending returns recovery candidates in strict recovery order.
func (s *GormStore) FindPending(ctx context.Context, userID int64, eventType string, now time.Time) ([]Event, error) {
	var pending []Event
	err := s.db.WithContext(ctx).
		Where("target_user_id = ? AND event_type = ? AND is_read = ?", userID, eventType, false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("priority DESC, created_at ASC").
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("events: find pending: %w", err)
	}
	return pending, nil
}

// PurgeTerminal deletes every read or expired row.
func (s *GormStore) PurgeTerminal(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("is_read = ? OR (expires_at IS NOT NULL AND expires_at <= ?)", true, now).
		Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("events: purge terminal: %w", result.Error)
	}
	return result.RowsAffected, nil
}
