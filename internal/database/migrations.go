package database

import (
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationTruncateCompletionDates = "2024-06-01_truncate_completion_dates"
	migrationBackfillCatalogVersion  = "2024-06-15_backfill_unlock_catalog_version"
	calendarDateLength               = 10
	firstCatalogVersion              = 1
)

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
		{name: migrationTruncateCompletionDates, apply: truncateCompletionDates},
		{name: migrationBackfillCatalogVersion, apply: backfillCatalogVersion},
	}

	for _, migration := range migrations {
		var records []migrationRecord
		lookup := db.Where("name = ?", migration.name).Limit(1).Find(&records)
		if lookup.Error != nil {
			return lookup.Error
		}
		if lookup.RowsAffected > 0 {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// truncateCompletionDates rewrites timestamp-style dates such as
// 2024-01-01T08:00:00Z to their calendar day.
func truncateCompletionDates(db *gorm.DB) error {
	return db.Model(&habits.Completion{}).
		Where("length(date) > ?", calendarDateLength).
		Update("date", gorm.Expr("substr(date, 1, ?)", calendarDateLength)).Error
}

func backfillCatalogVersion(db *gorm.DB) error {
	return db.Model(&achievements.UnlockRecord{}).
		Where("catalog_version = 0").
		Update("catalog_version", firstCatalogVersion).Error
}
