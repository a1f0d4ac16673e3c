package database

import (
	"errors"
	"time"

	"github.com/beaconworks/beacon/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillEventPriority = "2026-06-02_backfill_event_priority"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEventPriority, apply: backfillEventPriority},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before the priority column became NOT NULL carry NULLs that
// break the recovery ordering; pin them to NORMAL.
func backfillEventPriority(db *gorm.DB) error {
	return db.Model(&events.Event{}).
		Where("priority IS NULL").
		Update("priority", events.PriorityNormal).Error
}
