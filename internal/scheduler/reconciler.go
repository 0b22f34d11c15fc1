// Package scheduler runs periodic background jobs for the API process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	reconcileJobName       = "achievements-reconcile"
	reconcileFinishMessage = "pending achievement evaluations reconciled"
	fieldRemaining         = "remaining"
)

var errInvalidInterval = errors.New("scheduler: interval must be positive")

// PendingRetrier re-runs deferred work and reports how much is still pending.
type PendingRetrier interface {
	RetryPending(ctx context.Context) int
}

// ReconcilerConfig describes the reconciler job.
type ReconcilerConfig struct {
	Retrier  PendingRetrier
	Interval time.Duration
	Logger   *zap.Logger
}

// Reconciler periodically retries pending achievement evaluations.
type Reconciler struct {
	scheduler gocron.Scheduler
	retrier   PendingRetrier
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewReconciler registers the reconcile job on a new gocron scheduler. The job does not run until Start.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Retrier == nil {
		return nil, errors.New("scheduler: retrier is required")
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reconciler := &Reconciler{
		scheduler: scheduler,
		retrier:   cfg.Retrier,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(reconciler.run),
		gocron.WithName(reconcileJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("scheduler: register job: %w", err)
	}
	return reconciler, nil
}

// Start begins running the job in the background.
func (r *Reconciler) Start() {
	r.scheduler.Start()
}

// Shutdown stops the scheduler and cancels a running pass.
func (r *Reconciler) Shutdown() error {
	r.cancel()
	return r.scheduler.Shutdown()
}

func (r *Reconciler) run() {
	if r.ctx.Err() != nil {
		return
	}
	remaining := r.retrier.RetryPending(r.ctx)
	r.logger.Debug(reconcileFinishMessage, zap.Int(fieldRemaining, remaining))
}
