package achievements

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew            = "achievements.ledger.new"
	opTryUnlock            = "achievements.try_unlock"
	opListUnlocked         = "achievements.list_unlocked"
	queryLedgerUserID      = "user_id = ?"
	queryLedgerUserKey     = "user_id = ? AND achievement_key = ?"
	orderUnlockedAsc       = "unlocked_at_s ASC, achievement_key ASC"
	reasonLedgerMissingDB  = "missing_database"
	reasonUnknownKey       = "unknown_key"
	reasonLedgerInvalidID  = "invalid_user_id"
	reasonLedgerInsert     = "insert_failed"
	reasonLedgerLookup     = "lookup_failed"
	reasonLedgerQuery      = "query_failed"
	fieldAchievementKey    = "achievement_key"
	fieldLedgerUserID      = "user_id"
	ledgerErrorLogMessage  = "achievement ledger error"
	ledgerSucceededMessage = "achievement unlocked"
)

var (
	errLedgerMissingDatabase = errors.New("database handle is required")
	// ErrUnknownKey indicates an achievement key that is not in the catalog.
	ErrUnknownKey = errors.New("achievements: unknown achievement key")
)

// UnlockRecord is one row of the unlock ledger. (user_id, achievement_key) is unique.
type UnlockRecord struct {
	UserID            string `gorm:"column:user_id;primaryKey;size:190;not null"`
	AchievementKey    string `gorm:"column:achievement_key;primaryKey;size:64;not null"`
	CatalogVersion    int    `gorm:"column:catalog_version;not null"`
	UnlockedAtSeconds int64  `gorm:"column:unlocked_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UnlockRecord) TableName() string {
	return "achievement_unlocks"
}

// UnlockedAt returns the unlock instant in UTC.
func (r UnlockRecord) UnlockedAt() time.Time {
	return time.Unix(r.UnlockedAtSeconds, 0).UTC()
}

// UnlockResult reports the ledger row for a key and whether this call created it.
type UnlockResult struct {
	Record UnlockRecord
	Newly  bool
}

// LedgerConfig describes the dependencies of the unlock ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Catalog  Catalog
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger records unlocks with an insert-if-absent write.
type Ledger struct {
	db      *gorm.DB
	catalog Catalog
	clock   func() time.Time
	logger  *zap.Logger
}

// NewLedger constructs a ledger bound to a catalog.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opLedgerNew, reasonLedgerMissingDB, errLedgerMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:      cfg.Database,
		catalog: cfg.Catalog,
		clock:   clock,
		logger:  logger,
	}, nil
}

// TryUnlock inserts the unlock if absent. Concurrent callers for the same
// (user, key) observe exactly one Newly result and the same unlock time.
func (l *Ledger) TryUnlock(ctx context.Context, userID habits.UserID, key Key) (UnlockResult, error) {
	if userID == "" {
		return UnlockResult{}, apperrors.Validation(opTryUnlock, reasonLedgerInvalidID, habits.ErrInvalidUserID)
	}
	if _, ok := l.catalog.Lookup(key); !ok {
		return UnlockResult{}, apperrors.Validation(opTryUnlock, reasonUnknownKey, ErrUnknownKey)
	}

	record := UnlockRecord{
		UserID:            userID.String(),
		AchievementKey:    key.String(),
		CatalogVersion:    l.catalog.Version(),
		UnlockedAtSeconds: l.clock().UTC().Unix(),
	}

	var result UnlockResult
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if created.Error != nil {
			l.logError(opTryUnlock, reasonLedgerInsert, created.Error,
				zap.String(fieldLedgerUserID, userID.String()),
				zap.String(fieldAchievementKey, key.String()))
			return apperrors.ClassifyStore(opTryUnlock, reasonLedgerInsert, created.Error)
		}
		if created.RowsAffected > 0 {
			result = UnlockResult{Record: record, Newly: true}
			return nil
		}

		var existing UnlockRecord
		if err := tx.Where(queryLedgerUserKey, userID.String(), key.String()).Take(&existing).Error; err != nil {
			l.logError(opTryUnlock, reasonLedgerLookup, err,
				zap.String(fieldLedgerUserID, userID.String()),
				zap.String(fieldAchievementKey, key.String()))
			return apperrors.ClassifyStore(opTryUnlock, reasonLedgerLookup, err)
		}
		result = UnlockResult{Record: existing}
		return nil
	})
	if txErr != nil {
		return UnlockResult{}, txErr
	}
	if result.Newly {
		l.logger.Info(ledgerSucceededMessage,
			zap.String(fieldLedgerUserID, userID.String()),
			zap.String(fieldAchievementKey, key.String()))
	}
	return result, nil
}

// ListUnlocked returns the user's unlocks, oldest first.
func (l *Ledger) ListUnlocked(ctx context.Context, userID habits.UserID) ([]UnlockRecord, error) {
	if userID == "" {
		return nil, apperrors.Validation(opListUnlocked, reasonLedgerInvalidID, habits.ErrInvalidUserID)
	}
	var records []UnlockRecord
	if err := l.db.WithContext(ctx).
		Where(queryLedgerUserID, userID.String()).
		Order(orderUnlockedAsc).
		Find(&records).Error; err != nil {
		l.logError(opListUnlocked, reasonLedgerQuery, err, zap.String(fieldLedgerUserID, userID.String()))
		return nil, apperrors.ClassifyStore(opListUnlocked, reasonLedgerQuery, err)
	}
	return records, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	l.logger.Error(ledgerErrorLogMessage, attrs...)
}
