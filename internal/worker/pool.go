package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"timesheet/internal/config"
	"timesheet/internal/integration"
	"timesheet/internal/models"
	"timesheet/internal/notify"
	"timesheet/internal/queue"
	"timesheet/internal/syncer"
)

const (
	minJobTimeout = time.Minute
	errorPause    = time.Second
)

type IntegrationFinder interface {
	FindByID(ctx context.Context, id string) (*models.Integration, error)
}

// ConfigResolver decrypts an integration's config; *integration.Store satisfies it.
type ConfigResolver interface {
	Resolve(ctx context.Context, integ *models.Integration) (integration.Config, error)
}

type RunRecorder interface {
	Create(ctx context.Context, run *models.IntegrationRun) error
}

type TogglRunner interface {
	Run(ctx context.Context, integ *models.Integration, cfg integration.TogglConfig, log *syncer.RunLog) error
}

type JiraRunner interface {
	Run(ctx context.Context, integ *models.Integration, cfg integration.JiraConfig, log *syncer.RunLog) error
}

type SheetsRunner interface {
	Run(ctx context.Context, integ *models.Integration, cfg integration.GoogleSheetsConfig, log *syncer.RunLog) error
}

// Handlers holds one runner per integration type.
type Handlers struct {
	Toggl  TogglRunner
	Jira   JiraRunner
	Sheets SheetsRunner
}

// Pool runs integration jobs from the queue on a fixed number of goroutines.
type Pool struct {
	cfg          config.WorkerConfig
	queue        queue.Queue
	integrations IntegrationFinder
	configs      ConfigResolver
	runs         RunRecorder
	handlers     Handlers
	notifier     notify.Notifier
	logger       *zap.Logger
	now          func() time.Time

	wg sync.WaitGroup
}

func NewPool(
	cfg config.WorkerConfig,
	q queue.Queue,
	integrations IntegrationFinder,
	configs ConfigResolver,
	runs RunRecorder,
	handlers Handlers,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pool{
		cfg:          cfg,
		queue:        q,
		integrations: integrations,
		configs:      configs,
		runs:         runs,
		handlers:     handlers,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// Start launches the worker goroutines. They stop when ctx is cancelled; Wait blocks
// until the jobs in flight have finished.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting workers", zap.Int("concurrency", p.cfg.Concurrency))
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", n))

	for ctx.Err() == nil {
		job, err := p.queue.Reserve(ctx, p.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Failed to reserve job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.process(ctx, job)
	}
}

// process handles one job. It never panics.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker recovered from panic",
				zap.String("job_id", job.ID),
				zap.Any("error", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	// Queue and run bookkeeping must land even when shutdown cancels ctx.
	bg := context.WithoutCancel(ctx)
	logger := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("integration_id", job.Payload.IntegrationID),
		zap.Int("attempt", job.Attempt))

	if job.Name != queue.JobProcessIntegration {
		logger.Warn("Dropping job with unknown name", zap.String("name", job.Name))
		p.complete(bg, job, logger)
		return
	}

	integ, err := p.integrations.FindByID(ctx, job.Payload.IntegrationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("Integration no longer exists, dropping job")
			p.complete(bg, job, logger)
			return
		}
		logger.Error("Failed to load integration", zap.Error(err))
		p.retryOrComplete(bg, job, logger)
		return
	}

	retryable, runErr := p.run(ctx, integ, job, logger)
	if runErr == nil {
		p.complete(bg, job, logger)
		return
	}

	final := !retryable || job.Attempt >= p.cfg.MaxAttempts
	if final {
		p.complete(bg, job, logger)
	} else {
		p.retry(bg, job, logger)
	}
	msg := notify.RunFailed(integ.Name, integ.Type, integ.ID, job.Attempt, final, runErr, p.now())
	if err := p.notifier.Notify(bg, msg); err != nil {
		logger.Warn("Failed to send failure notification", zap.Error(err))
	}
}

// run executes the integration and persists its run log. The bool reports whether a
// failure may be retried.
func (p *Pool) run(ctx context.Context, integ *models.Integration, job *queue.Job, logger *zap.Logger) (bool, error) {
	log := syncer.NewRunLog(logger)
	run := &models.IntegrationRun{
		ID:            uuid.NewString(),
		IntegrationID: integ.ID,
		JobID:         job.ID,
		Attempt:       job.Attempt,
		StartedAt:     p.now().UTC(),
	}

	retryable := true
	cfg, err := p.configs.Resolve(ctx, integ)
	if err != nil {
		retryable = !errors.Is(err, integration.ErrConfigCorrupt)
		log.Error("Cannot read integration config: %v", err)
	} else {
		timeout := p.jobTimeout(integ.CronPattern)
		log.Info("Starting %s run (attempt %d, timeout %s)", cfg.Type(), job.Attempt, timeout)

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		err = p.dispatch(runCtx, integ, cfg, log)
		cancel()

		if err != nil {
			log.Error("Run failed: %v", err)
		} else {
			log.Info("Run finished with %d warning(s)", log.Count(syncer.LevelWarn))
		}
	}

	finished := p.now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunStatusSucceeded
	if err != nil {
		run.Status = models.RunStatusFailed
	}
	run.Entries = log.JSON()
	if saveErr := p.runs.Create(context.WithoutCancel(ctx), run); saveErr != nil {
		logger.Error("Failed to persist run log", zap.Error(saveErr))
	}
	return retryable, err
}

// dispatch routes the config to its handler. Handler panics become errors.
func (p *Pool) dispatch(ctx context.Context, integ *models.Integration, cfg integration.Config, log *syncer.RunLog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	switch c := cfg.(type) {
	case integration.TogglConfig:
		return p.handlers.Toggl.Run(ctx, integ, c, log)
	case integration.JiraConfig:
		return p.handlers.Jira.Run(ctx, integ, c, log)
	case integration.GoogleSheetsConfig:
		return p.handlers.Sheets.Run(ctx, integ, c, log)
	default:
		return errors.Newf("no handler for integration type %s", cfg.Type())
	}
}

// jobTimeout is the cron interval clamped to [1m, MaxJobTimeout].
func (p *Pool) jobTimeout(cronPattern string) time.Duration {
	limit := p.cfg.MaxJobTimeout
	if limit < minJobTimeout {
		limit = minJobTimeout
	}
	interval, err := integration.Interval(cronPattern, p.now())
	if err != nil {
		return limit
	}
	switch {
	case interval < minJobTimeout:
		return minJobTimeout
	case interval > limit:
		return limit
	default:
		return interval
	}
}

// backoff doubles BackoffBase per attempt already made, capped at BackoffMax.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.cfg.BackoffBase
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.cfg.BackoffMax > 0 && delay >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	if p.cfg.BackoffMax > 0 && delay > p.cfg.BackoffMax {
		return p.cfg.BackoffMax
	}
	return delay
}

func (p *Pool) retryOrComplete(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	if job.Attempt >= p.cfg.MaxAttempts {
		p.complete(ctx, job, logger)
		return
	}
	p.retry(ctx, job, logger)
}

func (p *Pool) retry(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	delay := p.backoff(job.Attempt)
	if err := p.queue.Retry(ctx, job, delay); err != nil {
		logger.Error("Failed to schedule retry", zap.Error(err))
		return
	}
	logger.Info("Retry scheduled", zap.Duration("delay", delay))
}

func (p *Pool) complete(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	if err := p.queue.Complete(ctx, job); err != nil {
		logger.Warn("Failed to complete job", zap.Error(err))
	}
}
