package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"go.uber.org/zap"
)

const (
	opServiceNew          = "achievements.service.new"
	reasonMissingLedger   = "missing_ledger"
	fieldNewlyUnlocked    = "newly_unlocked"
	fieldFailedKeys       = "failed_keys"
	unlockFailedMessage   = "achievement unlock failed"
	evaluationDoneMessage = "achievement evaluation completed"
)

var errMissingLedger = errors.New("unlock ledger is required")

// ServiceConfig describes the dependencies of the evaluation service.
type ServiceConfig struct {
	Ledger      *Ledger
	Catalog     Catalog
	RetryPolicy apperrors.RetryPolicy
	Location    *time.Location
	Logger      *zap.Logger
}

// Service composes the evaluator with the unlock ledger.
type Service struct {
	ledger      *Ledger
	catalog     Catalog
	retryPolicy apperrors.RetryPolicy
	location    *time.Location
	logger      *zap.Logger
}

// Status is the achievements page view of one catalog entry.
type Status struct {
	Key         Key        `json:"key"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at"`
}

// NewService constructs the evaluation service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opServiceNew, reasonMissingLedger, errMissingLedger)
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:      cfg.Ledger,
		catalog:     cfg.Catalog,
		retryPolicy: cfg.RetryPolicy,
		location:    location,
		logger:      logger,
	}, nil
}

// Catalog returns the catalog the service evaluates.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// EvaluateAndUnlock evaluates the snapshot and records every satisfied key.
// It returns only the keys this pass newly unlocked. Keys that failed to
// record are reported through a joined error alongside the successful ones.
func (s *Service) EvaluateAndUnlock(ctx context.Context, userID habits.UserID, habitList []habits.Habit, completions []habits.Completion) ([]Key, error) {
	unlocked, err := s.unlockedKeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates := Evaluate(s.catalog, NewSnapshot(habitList, completions, s.location), unlocked)

	var (
		newly    []Key
		failures []error
		failed   []string
	)
	for _, key := range candidates {
		result, unlockErr := apperrors.RetryValue(ctx, s.retryPolicy, func(ctx context.Context) (UnlockResult, error) {
			return s.ledger.TryUnlock(ctx, userID, key)
		})
		if unlockErr != nil {
			s.logger.Warn(unlockFailedMessage,
				zap.String(fieldLedgerUserID, userID.String()),
				zap.String(fieldAchievementKey, key.String()),
				zap.Error(unlockErr))
			failures = append(failures, fmt.Errorf("%s: %w", key, unlockErr))
			failed = append(failed, key.String())
			continue
		}
		if result.Newly {
			newly = append(newly, key)
		}
	}

	s.logger.Debug(evaluationDoneMessage,
		zap.String(fieldLedgerUserID, userID.String()),
		zap.Int(fieldNewlyUnlocked, len(newly)),
		zap.Strings(fieldFailedKeys, failed))
	return newly, errors.Join(failures...)
}

// Statuses lists every catalog entry with the user's unlock state.
func (s *Service) Statuses(ctx context.Context, userID habits.UserID) ([]Status, error) {
	records, err := apperrors.RetryValue(ctx, s.retryPolicy, func(ctx context.Context) ([]UnlockRecord, error) {
		return s.ledger.ListUnlocked(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	byKey := make(map[Key]UnlockRecord, len(records))
	for _, record := range records {
		byKey[Key(record.AchievementKey)] = record
	}

	definitions := s.catalog.Definitions()
	statuses := make([]Status, 0, len(definitions))
	for _, definition := range definitions {
		status := Status{
			Key:         definition.Key,
			Title:       definition.Title,
			Description: definition.Description,
			Icon:        definition.Icon,
		}
		if record, ok := byKey[definition.Key]; ok {
			unlockedAt := record.UnlockedAt()
			status.Unlocked = true
			status.UnlockedAt = &unlockedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Service) unlockedKeys(ctx context.Context, userID habits.UserID) (map[Key]struct{}, error) {
	records, err := apperrors.RetryValue(ctx, s.retryPolicy, func(ctx context.Context) ([]UnlockRecord, error) {
		return s.ledger.ListUnlocked(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	keys := make(map[Key]struct{}, len(records))
	for _, record := range records {
		keys[Key(record.AchievementKey)] = struct{}{}
	}
	return keys, nil
}
