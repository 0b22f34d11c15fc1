package achievements

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"go.uber.org/zap"
)

const (
	opTriggerNew          = "achievements.trigger.new"
	reasonMissingService  = "missing_service"
	reasonMissingSource   = "missing_snapshot_source"
	fieldPendingUsers     = "pending_users"
	triggerFailedMessage  = "achievement evaluation deferred"
	reconcileStartMessage = "reconciling pending achievement evaluations"
)

var (
	errMissingService = errors.New("evaluation service is required")
	errMissingSource  = errors.New("snapshot source is required")
)

// SnapshotSource loads the current habits and completions of a user.
type SnapshotSource interface {
	Snapshot(ctx context.Context, userID habits.UserID) (habits.Snapshot, error)
}

// Publisher receives achievements newly unlocked by a trigger.
type Publisher interface {
	PublishUnlocked(userID habits.UserID, unlocked []Definition)
}

// TriggerConfig describes the dependencies of a Trigger.
type TriggerConfig struct {
	Service     *Service
	Source      SnapshotSource
	Publisher   Publisher
	RetryPolicy apperrors.RetryPolicy
	Logger      *zap.Logger
}

// Trigger runs an evaluation pass after habit or completion mutations.
// Users whose pass failed are kept pending until RetryPending succeeds for them.
type Trigger struct {
	service     *Service
	source      SnapshotSource
	publisher   Publisher
	retryPolicy apperrors.RetryPolicy
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[habits.UserID]struct{}
}

// NewTrigger constructs a Trigger. Publisher may be nil.
func NewTrigger(cfg TriggerConfig) (*Trigger, error) {
	if cfg.Service == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opTriggerNew, reasonMissingService, errMissingService)
	}
	if cfg.Source == nil {
		return nil, apperrors.New(apperrors.KindPermanent, opTriggerNew, reasonMissingSource, errMissingSource)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		service:     cfg.Service,
		source:      cfg.Source,
		publisher:   cfg.Publisher,
		retryPolicy: cfg.RetryPolicy,
		logger:      logger,
		pending:     make(map[habits.UserID]struct{}),
	}, nil
}

// Fire evaluates the user's current snapshot and publishes newly unlocked achievements.
// A failed pass marks the user pending; the error is returned for logging only.
func (t *Trigger) Fire(ctx context.Context, userID habits.UserID) ([]Key, error) {
	snapshot, err := apperrors.RetryValue(ctx, t.retryPolicy, func(ctx context.Context) (habits.Snapshot, error) {
		return t.source.Snapshot(ctx, userID)
	})
	if err != nil {
		t.markPending(userID, err)
		return nil, err
	}

	newly, err := t.service.EvaluateAndUnlock(ctx, userID, snapshot.Habits, snapshot.Completions)
	if len(newly) > 0 && t.publisher != nil {
		t.publisher.PublishUnlocked(userID, t.definitions(newly))
	}
	if err != nil {
		t.markPending(userID, err)
		return newly, err
	}

	t.mu.Lock()
	delete(t.pending, userID)
	t.mu.Unlock()
	return newly, nil
}

// RetryPending re-runs every pending user once and returns how many are still pending.
func (t *Trigger) RetryPending(ctx context.Context) int {
	users := t.Pending()
	if len(users) == 0 {
		return 0
	}
	t.logger.Info(reconcileStartMessage, zap.Int(fieldPendingUsers, len(users)))
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		_, _ = t.Fire(ctx, userID)
	}
	return len(t.Pending())
}

// Pending returns the users awaiting a successful evaluation, sorted.
func (t *Trigger) Pending() []habits.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]habits.UserID, 0, len(t.pending))
	for userID := range t.pending {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (t *Trigger) markPending(userID habits.UserID, err error) {
	if apperrors.KindOf(err) == apperrors.KindValidation {
		return
	}
	t.mu.Lock()
	t.pending[userID] = struct{}{}
	t.mu.Unlock()
	t.logger.Warn(triggerFailedMessage, zap.String(fieldLedgerUserID, userID.String()), zap.Error(err))
}

func (t *Trigger) definitions(keys []Key) []Definition {
	catalog := t.service.Catalog()
	definitions := make([]Definition, 0, len(keys))
	for _, key := range keys {
		if definition, ok := catalog.Lookup(key); ok {
			definitions = append(definitions, definition)
		}
	}
	return definitions
}
