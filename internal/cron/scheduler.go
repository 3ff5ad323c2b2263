package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"timesheet/internal/config"
	"timesheet/internal/queue"
)

// Scheduler drives the queue clock: it promotes due jobs and optionally re-reconciles.
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.SchedulerConfig
	reconciler *Reconciler
	queue      queue.Queue
	logger     *zap.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new cron scheduler.
func New(cfg config.SchedulerConfig, reconciler *Reconciler, q queue.Queue, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:        cfg,
		reconciler: reconciler,
		queue:      q,
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start reconciles once, synchronously, then registers and starts the periodic jobs.
// Workers must not be started before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting cron scheduler...")

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("boot reconciliation failed: %w", err)
	}

	every := s.cfg.PromoteEvery
	if every <= 0 {
		every = time.Second
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), s.promote); err != nil {
		return fmt.Errorf("failed to register promotion: %w", err)
	}

	if s.cfg.ReconcileCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.ReconcileCron, s.reconcile); err != nil {
			return fmt.Errorf("invalid SCHEDULER_RECONCILE_CRON %q: %w", s.cfg.ReconcileCron, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started")
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

func (s *Scheduler) promote() {
	defer s.recoverFromPanic("promote")

	n, err := s.queue.PromoteDue(s.ctx, s.now())
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("Failed to promote due jobs", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Debug("Promoted due jobs", zap.Int("count", n))
	}
}

func (s *Scheduler) reconcile() {
	defer s.recoverFromPanic("reconcile")

	s.logger.Debug("Running: schedule reconciliation")
	if _, err := s.reconciler.Reconcile(s.ctx); err != nil {
		s.logger.Error("Periodic reconciliation failed", zap.Error(err))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
