package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timesheet/internal/models"
)

// SyncStateRepository stores per-integration key/value watermarks.
type SyncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get returns the stored value and whether one exists.
func (r *SyncStateRepository) Get(ctx context.Context, integrationID, key string) (string, bool, error) {
	var state models.SyncState
	err := r.db.WithContext(ctx).
		Where(&models.SyncState{IntegrationID: integrationID, Key: key}).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync state: %w", err)
	}
	return state.Value, true, nil
}

func (r *SyncStateRepository) Set(ctx context.Context, integrationID, key, value string) error {
	state := models.SyncState{IntegrationID: integrationID, Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}
