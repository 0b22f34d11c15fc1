package habits

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errHabitNotFound     = errors.New("habit not found")
	errCompletionMissing = errors.New("completion not found")
	errInvalidRange      = errors.New("history range end precedes start")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew            = "habits.service.new"
	opListHabits            = "habits.list_habits"
	opGetHabit              = "habits.get_habit"
	opCreateHabit           = "habits.create_habit"
	opUpdateHabit           = "habits.update_habit"
	opDeleteHabit           = "habits.delete_habit"
	opListCompletions       = "habits.list_completions"
	opListHabitCompletions  = "habits.list_habit_completions"
	opAppendCompletion      = "habits.append_completion"
	opDeleteCompletion      = "habits.delete_completion"
	opSnapshot              = "habits.snapshot"
	opHistory               = "habits.history"
	fieldUserID             = "user_id"
	fieldHabitID            = "habit_id"
	fieldCompletionID       = "completion_id"
	queryUserID             = fieldUserID + " = ?"
	queryUserHabit          = fieldUserID + " = ? AND " + fieldHabitID + " = ?"
	queryUserAndID          = fieldUserID + " = ? AND id = ?"
	orderCreatedAsc         = "created_at_s ASC, id ASC"
	orderDateAsc            = "date ASC, id ASC"
	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidUserID     = "invalid_user_id"
	reasonInvalidHabitID    = "invalid_habit_id"
	reasonInvalidName       = "invalid_name"
	reasonInvalidDate       = "invalid_date"
	reasonInvalidRange      = "invalid_range"
	reasonHabitNotFound     = "habit_not_found"
	reasonCompletionMissing = "completion_not_found"
	reasonIDGeneration      = "id_generation_failed"
	reasonQueryFailed       = "query_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	maxHistoryDays          = 366
)

// ServiceConfig describes the dependencies of the habit and completion store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists habits and completions.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the habit store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ListHabits returns the user's habits in creation order.
func (s *Service) ListHabits(ctx context.Context, userID UserID) ([]Habit, error) {
	if err := s.ready(opListHabits); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperrors.Validation(opListHabits, reasonInvalidUserID, ErrInvalidUserID)
	}

	var habits []Habit
	if err := s.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order(orderCreatedAsc).
		Find(&habits).Error; err != nil {
		s.logError(opListHabits, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, apperrors.ClassifyStore(opListHabits, reasonQueryFailed, err)
	}
	return habits, nil
}

// GetHabit returns one habit owned by the user.
func (s *Service) GetHabit(ctx context.Context, userID UserID, habitID HabitID) (Habit, error) {
	if err := s.ready(opGetHabit); err != nil {
		return Habit{}, err
	}
	return s.findHabit(s.db.WithContext(ctx), opGetHabit, userID, habitID)
}

// CreateHabit stores a new habit for the user.
func (s *Service) CreateHabit(ctx context.Context, userID UserID, input HabitInput) (Habit, error) {
	if err := s.ready(opCreateHabit); err != nil {
		return Habit{}, err
	}
	if userID == "" {
		return Habit{}, apperrors.Validation(opCreateHabit, reasonInvalidUserID, ErrInvalidUserID)
	}
	name, err := normalizeName(input.Name)
	if err != nil {
		return Habit{}, apperrors.Validation(opCreateHabit, reasonInvalidName, err)
	}

	habitID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateHabit, reasonIDGeneration, err, zap.String(fieldUserID, userID.String()))
		return Habit{}, apperrors.New(apperrors.KindPermanent, opCreateHabit, reasonIDGeneration, err)
	}

	habit := Habit{
		ID:               habitID,
		UserID:           userID.String(),
		Name:             name,
		Category:         trimmed(input.Category),
		Description:      trimmed(input.Description),
		Frequency:        trimmed(input.Frequency),
		Color:            normalizeColor(input.Color),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&habit).Error; err != nil {
		s.logError(opCreateHabit, reasonInsertFailed, err, zap.String(fieldUserID, userID.String()))
		return Habit{}, apperrors.ClassifyStore(opCreateHabit, reasonInsertFailed, err)
	}
	return habit, nil
}

// UpdateHabit edits the name and/or color of a habit.
func (s *Service) UpdateHabit(ctx context.Context, userID UserID, habitID HabitID, update HabitUpdate) (Habit, error) {
	if err := s.ready(opUpdateHabit); err != nil {
		return Habit{}, err
	}

	updates := map[string]any{}
	if update.Name != nil {
		name, err := normalizeName(*update.Name)
		if err != nil {
			return Habit{}, apperrors.Validation(opUpdateHabit, reasonInvalidName, err)
		}
		updates["name"] = name
	}
	if update.Color != nil {
		updates["color"] = normalizeColor(*update.Color)
	}

	var habit Habit
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findHabit(tx, opUpdateHabit, userID, habitID)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&Habit{}).
				Where(queryUserAndID, userID.String(), habitID.String()).
				Updates(updates).Error; err != nil {
				s.logError(opUpdateHabit, reasonUpdateFailed, err,
					zap.String(fieldUserID, userID.String()),
					zap.String(fieldHabitID, habitID.String()))
				return apperrors.ClassifyStore(opUpdateHabit, reasonUpdateFailed, err)
			}
			if name, ok := updates["name"].(string); ok {
				existing.Name = name
			}
			if color, ok := updates["color"].(string); ok {
				existing.Color = color
			}
		}
		habit = existing
		return nil
	})
	if txErr != nil {
		return Habit{}, txErr
	}
	return habit, nil
}

// DeleteHabit removes a habit together with its completions.
func (s *Service) DeleteHabit(ctx context.Context, userID UserID, habitID HabitID) error {
	if err := s.ready(opDeleteHabit); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findHabit(tx, opDeleteHabit, userID, habitID); err != nil {
			return err
		}
		if err := tx.Where(queryUserHabit, userID.String(), habitID.String()).
			Delete(&Completion{}).Error; err != nil {
			s.logError(opDeleteHabit, reasonDeleteFailed, err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldHabitID, habitID.String()))
			return apperrors.ClassifyStore(opDeleteHabit, reasonDeleteFailed, err)
		}
		if err := tx.Where(queryUserAndID, userID.String(), habitID.String()).
			Delete(&Habit{}).Error; err != nil {
			s.logError(opDeleteHabit, reasonDeleteFailed, err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldHabitID, habitID.String()))
			return apperrors.ClassifyStore(opDeleteHabit, reasonDeleteFailed, err)
		}
		return nil
	})
}

// ListCompletions returns every completion recorded by the user, oldest first.
func (s *Service) ListCompletions(ctx context.Context, userID UserID) ([]Completion, error) {
	if err := s.ready(opListCompletions); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperrors.Validation(opListCompletions, reasonInvalidUserID, ErrInvalidUserID)
	}

	var completions []Completion
	if err := s.db.WithContext(ctx).
		Where(queryUserID, userID.String()).
		Order(orderDateAsc).
		Find(&completions).Error; err != nil {
		s.logError(opListCompletions, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, apperrors.ClassifyStore(opListCompletions, reasonQueryFailed, err)
	}
	return completions, nil
}

// ListHabitCompletions returns the completions of one habit, oldest first.
func (s *Service) ListHabitCompletions(ctx context.Context, userID UserID, habitID HabitID) ([]Completion, error) {
	if err := s.ready(opListHabitCompletions); err != nil {
		return nil, err
	}
	if _, err := s.findHabit(s.db.WithContext(ctx), opListHabitCompletions, userID, habitID); err != nil {
		return nil, err
	}

	var completions []Completion
	if err := s.db.WithContext(ctx).
		Where(queryUserHabit, userID.String(), habitID.String()).
		Order(orderDateAsc).
		Find(&completions).Error; err != nil {
		s.logError(opListHabitCompletions, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldHabitID, habitID.String()))
		return nil, apperrors.ClassifyStore(opListHabitCompletions, reasonQueryFailed, err)
	}
	return completions, nil
}

// AppendCompletion records that the habit was performed on day.
func (s *Service) AppendCompletion(ctx context.Context, userID UserID, habitID HabitID, day calendar.Day) (Completion, error) {
	if err := s.ready(opAppendCompletion); err != nil {
		return Completion{}, err
	}
	if day.IsZero() {
		return Completion{}, apperrors.Validation(opAppendCompletion, reasonInvalidDate, calendar.ErrInvalidDay)
	}

	var completion Completion
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findHabit(tx, opAppendCompletion, userID, habitID); err != nil {
			return err
		}

		completionID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAppendCompletion, reasonIDGeneration, err, zap.String(fieldUserID, userID.String()))
			return apperrors.New(apperrors.KindPermanent, opAppendCompletion, reasonIDGeneration, err)
		}

		completion = Completion{
			ID:                 completionID,
			UserID:             userID.String(),
			HabitID:            habitID.String(),
			Date:               day,
			CompletedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&completion).Error; err != nil {
			s.logError(opAppendCompletion, reasonInsertFailed, err,
				zap.String(fieldUserID, userID.String()),
				zap.String(fieldHabitID, habitID.String()))
			return apperrors.ClassifyStore(opAppendCompletion, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Completion{}, txErr
	}
	return completion, nil
}

// DeleteCompletion removes one completion by id.
func (s *Service) DeleteCompletion(ctx context.Context, userID UserID, completionID string) error {
	if err := s.ready(opDeleteCompletion); err != nil {
		return err
	}
	if userID == "" {
		return apperrors.Validation(opDeleteCompletion, reasonInvalidUserID, ErrInvalidUserID)
	}

	result := s.db.WithContext(ctx).
		Where(queryUserAndID, userID.String(), trimmed(completionID)).
		Delete(&Completion{})
	if result.Error != nil {
		s.logError(opDeleteCompletion, reasonDeleteFailed, result.Error,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldCompletionID, completionID))
		return apperrors.ClassifyStore(opDeleteCompletion, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound(opDeleteCompletion, reasonCompletionMissing, errCompletionMissing)
	}
	return nil
}

// Snapshot loads the user's habits and completions for one evaluation pass.
func (s *Service) Snapshot(ctx context.Context, userID UserID) (Snapshot, error) {
	if err := s.ready(opSnapshot); err != nil {
		return Snapshot{}, err
	}
	if userID == "" {
		return Snapshot{}, apperrors.Validation(opSnapshot, reasonInvalidUserID, ErrInvalidUserID)
	}

	var snapshot Snapshot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryUserID, userID.String()).Order(orderCreatedAsc).Find(&snapshot.Habits).Error; err != nil {
			s.logError(opSnapshot, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
			return apperrors.ClassifyStore(opSnapshot, reasonQueryFailed, err)
		}
		if err := tx.Where(queryUserID, userID.String()).Order(orderDateAsc).Find(&snapshot.Completions).Error; err != nil {
			s.logError(opSnapshot, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
			return apperrors.ClassifyStore(opSnapshot, reasonQueryFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}
	return snapshot, nil
}

// History reports, for every day in [from, to], whether the habit was completed.
func (s *Service) History(ctx context.Context, userID UserID, habitID HabitID, from, to calendar.Day) ([]HistoryEntry, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperrors.Validation(opHistory, reasonInvalidDate, calendar.ErrInvalidDay)
	}
	span := from.DaysUntil(to)
	if span < 0 || span >= maxHistoryDays {
		return nil, apperrors.Validation(opHistory, reasonInvalidRange, errInvalidRange)
	}

	completions, err := s.ListHabitCompletions(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}

	completed := make(map[calendar.Day]struct{}, len(completions))
	for _, completion := range completions {
		completed[completion.Date] = struct{}{}
	}

	entries := make([]HistoryEntry, 0, span+1)
	for day := from; !day.After(to); day = day.AddDays(1) {
		_, ok := completed[day]
		entries = append(entries, HistoryEntry{Date: day, Completed: ok})
	}
	return entries, nil
}

func (s *Service) findHabit(db *gorm.DB, operation string, userID UserID, habitID HabitID) (Habit, error) {
	if userID == "" {
		return Habit{}, apperrors.Validation(operation, reasonInvalidUserID, ErrInvalidUserID)
	}
	if habitID == "" {
		return Habit{}, apperrors.Validation(operation, reasonInvalidHabitID, ErrInvalidHabitID)
	}

	var habit Habit
	err := db.Where(queryUserAndID, userID.String(), habitID.String()).Take(&habit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Habit{}, apperrors.NotFound(operation, reasonHabitNotFound, errHabitNotFound)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldHabitID, habitID.String()))
		return Habit{}, apperrors.ClassifyStore(operation, reasonQueryFailed, err)
	}
	return habit, nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return apperrors.New(apperrors.KindPermanent, operation, reasonMissingDatabase, errMissingDatabase)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("habits service error", attrs...)
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
