package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"timesheet/internal/models"
)

// IntegrationRepository handles integration rows.
type IntegrationRepository struct {
	db *gorm.DB
}

func NewIntegrationRepository(db *gorm.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	if err := r.db.WithContext(ctx).Create(integration).Error; err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// FindByID returns gorm.ErrRecordNotFound (wrapped) when the integration does not exist.
func (r *IntegrationRepository) FindByID(ctx context.Context, id string) (*models.Integration, error) {
	var integration models.Integration
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&integration).Error; err != nil {
		return nil, fmt.Errorf("failed to find integration %s: %w", id, err)
	}
	return &integration, nil
}

// FindScheduled returns every integration that carries a cron pattern and therefore
// should own a recurring job.
func (r *IntegrationRepository) FindScheduled(ctx context.Context) ([]models.Integration, error) {
	var integrations []models.Integration
	err := r.db.WithContext(ctx).
		Where("cron_pattern <> ?", "").
		Order("id ASC").
		Find(&integrations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled integrations: %w", err)
	}
	return integrations, nil
}

func (r *IntegrationRepository) FindByWorkspace(ctx context.Context, workspaceID string) ([]models.Integration, error) {
	var integrations []models.Integration
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&integrations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace integrations: %w", err)
	}
	return integrations, nil
}

// UpdateConfig stores a new encrypted config and bumps the config version.
// It returns the new version.
func (r *IntegrationRepository) UpdateConfig(ctx context.Context, id, typ, cronPattern, envelope string) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Integration{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"type":           typ,
				"cron_pattern":   cronPattern,
				"config":         envelope,
				"config_version": gorm.Expr("config_version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.Integration{}).
			Where("id = ?", id).
			Pluck("config_version", &version).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update integration config: %w", err)
	}
	return version, nil
}

// SetRepeatJobKey records (or clears, with nil) the queue key bound to an integration.
func (r *IntegrationRepository) SetRepeatJobKey(ctx context.Context, id string, key *string) error {
	err := r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Update("repeat_job_key", key).Error
	if err != nil {
		return fmt.Errorf("failed to set repeat job key: %w", err)
	}
	return nil
}

func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("integration_id = ?", id).Delete(&models.SyncState{}).Error; err != nil {
			return err
		}
		if err := tx.Where("integration_id = ?", id).Delete(&models.SheetExport{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Integration{}).Error
	})
}
