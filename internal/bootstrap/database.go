package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"timesheet/internal/models"
)

// Migrate ensures every table the scheduler, the sync handlers and the overtime
// calculator read from exists.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		// Timesheet data
		&models.User{},
		&models.Project{},
		&models.Task{},
		&models.TimesheetEntry{},
		// Integrations
		&models.Integration{},
		&models.IntegrationRun{},
		&models.SyncState{},
		&models.SheetExport{},
	}
}
