package cron

import (
	"context"

	"go.uber.org/zap"

	"timesheet/internal/integration"
	"timesheet/internal/models"
	"timesheet/internal/queue"
)

// Hooks applies integration writes to the queue as they happen. They share the
// reconciler's per-integration lock.
type Hooks struct {
	queue        queue.Queue
	integrations IntegrationSource
	locks        *keyedMutex
	logger       *zap.Logger
}

func NewHooks(r *Reconciler) *Hooks {
	return &Hooks{
		queue:        r.queue,
		integrations: r.integrations,
		locks:        r.locks,
		logger:       r.logger,
	}
}

var _ integration.ScheduleHook = (*Hooks)(nil)

func (h *Hooks) OnIntegrationCreated(ctx context.Context, integ *models.Integration) error {
	if integ.CronPattern == "" {
		return nil
	}
	unlock := h.locks.Lock(integ.ID)
	defer unlock()

	key, err := h.queue.AddRepeating(ctx, repeatOptions(integ.ID, integ.CronPattern))
	if err != nil {
		return err
	}
	if err := h.integrations.SetRepeatJobKey(ctx, integ.ID, &key); err != nil {
		return err
	}
	integ.RepeatJobKey = &key
	h.logger.Info("Integration scheduled",
		zap.String("integration_id", integ.ID),
		zap.String("cron", integ.CronPattern))
	return nil
}

// OnIntegrationUpdated reschedules when the cron pattern changed: one remove, then one add.
// old is nil when the previous config could not be read.
func (h *Hooks) OnIntegrationUpdated(ctx context.Context, old, updated integration.Config, integrationID string) error {
	if old != nil && old.Cron() == updated.Cron() {
		return nil
	}
	unlock := h.locks.Lock(integrationID)
	defer unlock()

	key := queue.RepeatKey(integrationID)
	if err := h.queue.RemoveRepeatingByKey(ctx, key); err != nil {
		return err
	}
	if updated.Cron() == "" {
		return h.integrations.SetRepeatJobKey(ctx, integrationID, nil)
	}
	key, err := h.queue.AddRepeating(ctx, repeatOptions(integrationID, updated.Cron()))
	if err != nil {
		return err
	}
	if err := h.integrations.SetRepeatJobKey(ctx, integrationID, &key); err != nil {
		return err
	}
	h.logger.Info("Integration rescheduled",
		zap.String("integration_id", integrationID),
		zap.String("cron", updated.Cron()))
	return nil
}

func (h *Hooks) OnIntegrationDeleted(ctx context.Context, integrationID string) error {
	unlock := h.locks.Lock(integrationID)
	defer unlock()

	if err := h.queue.RemoveRepeatingByKey(ctx, queue.RepeatKey(integrationID)); err != nil {
		return err
	}
	h.logger.Info("Integration unscheduled", zap.String("integration_id", integrationID))
	return nil
}
