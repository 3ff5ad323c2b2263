package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"timesheet/internal/models"
)

// RunRepository persists integration run logs.
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.IntegrationRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to save integration run: %w", err)
	}
	return nil
}

// ListByIntegration returns the most recent runs first.
func (r *RunRepository) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]models.IntegrationRun, error) {
	var runs []models.IntegrationRun
	q := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list integration runs: %w", err)
	}
	return runs, nil
}
