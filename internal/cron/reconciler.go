package cron

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"timesheet/internal/models"
	"timesheet/internal/queue"
)

const defaultReconcileLimit = 16

// IntegrationSource is what scheduling reads and writes on integrations;
// *repository.IntegrationRepository satisfies it.
type IntegrationSource interface {
	FindScheduled(ctx context.Context) ([]models.Integration, error)
	FindByID(ctx context.Context, id string) (*models.Integration, error)
	SetRepeatJobKey(ctx context.Context, id string, key *string) error
}

// Result counts the queue mutations of one reconciliation.
type Result struct {
	Scheduled int `json:"scheduled"`
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Reconciler makes the queue's recurring jobs match the integrations in the database.
// It adds missing jobs and removes orphaned ones; it does not rewrite the cron of a job
// that already exists.
type Reconciler struct {
	queue        queue.Queue
	integrations IntegrationSource
	locks        *keyedMutex
	limit        int
	logger       *zap.Logger
}

func NewReconciler(q queue.Queue, integrations IntegrationSource, limit int, logger *zap.Logger) *Reconciler {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &Reconciler{
		queue:        q,
		integrations: integrations,
		locks:        newKeyedMutex(),
		limit:        limit,
		logger:       logger,
	}
}

// Reconcile runs one pass. Failures on single integrations are logged and counted in
// Result.Failed; an error is returned only when the desired or actual state cannot be read.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	integrations, err := r.integrations.FindScheduled(ctx)
	if err != nil {
		return Result{}, err
	}
	keys, err := r.queue.ListRepeatingKeys(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list repeating jobs: %w", err)
	}

	existing := make(map[string]bool, len(keys))
	for _, k := range keys {
		existing[k] = true
	}
	live := make(map[string]bool, len(integrations))

	var added, removed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.limit)

	for i := range integrations {
		integ := integrations[i]
		live[integ.ID] = true
		if existing[queue.RepeatKey(integ.ID)] {
			continue
		}
		g.Go(func() error {
			ok, err := r.addMissing(ctx, &integ)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.Error("Failed to schedule integration",
					zap.String("integration_id", integ.ID),
					zap.String("cron", integ.CronPattern),
					zap.Error(err))
			case ok:
				added.Add(1)
			}
			return nil
		})
	}

	for _, key := range keys {
		key := key
		id, ok := queue.IntegrationIDFromKey(key)
		if !ok || live[id] {
			continue
		}
		g.Go(func() error {
			ok, err := r.removeOrphan(ctx, id, key)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.Error("Failed to remove orphaned job",
					zap.String("repeat_key", key),
					zap.Error(err))
			case ok:
				removed.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()

	res := Result{
		Scheduled: len(integrations),
		Added:     int(added.Load()),
		Removed:   int(removed.Load()),
		Failed:    int(failed.Load()),
	}
	r.logger.Info("Schedule reconciled",
		zap.Int("scheduled", res.Scheduled),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (r *Reconciler) addMissing(ctx context.Context, integ *models.Integration) (bool, error) {
	unlock := r.locks.Lock(integ.ID)
	defer unlock()

	// A hook may have changed or deleted the integration since the list was read.
	current, err := r.integrations.FindByID(ctx, integ.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if current.CronPattern == "" {
		return false, nil
	}

	key, err := r.queue.AddRepeating(ctx, repeatOptions(current.ID, current.CronPattern))
	if err != nil {
		return false, err
	}
	if current.RepeatJobKey == nil {
		if err := r.integrations.SetRepeatJobKey(ctx, current.ID, &key); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (r *Reconciler) removeOrphan(ctx context.Context, id, key string) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	// A hook may have created the integration since the list was read.
	_, err := r.integrations.FindByID(ctx, id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := r.queue.RemoveRepeatingByKey(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func repeatOptions(integrationID, cronPattern string) queue.RepeatOptions {
	return queue.RepeatOptions{
		JobName:     queue.JobProcessIntegration,
		Payload:     queue.Payload{IntegrationID: integrationID},
		CronPattern: cronPattern,
		JobID:       queue.JobID(integrationID),
		RepeatKey:   queue.RepeatKey(integrationID),
	}
}
