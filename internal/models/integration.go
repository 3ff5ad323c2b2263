package models

import "time"

// Integration is a configured connection to an external data source or sink owned by a workspace.
// Config holds the encrypted configuration envelope; Type and CronPattern are denormalized from
// it on every persist so the scheduler never needs the decryption key.
type Integration struct {
	ID            string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkspaceID   string    `gorm:"column:workspace_id;size:36;index:idx_integrations_workspace" json:"workspaceId"`
	UserID        string    `gorm:"column:user_id;size:36" json:"userId"`
	Name          string    `gorm:"column:name;size:255" json:"name"`
	Type          string    `gorm:"column:type;size:50" json:"type"`
	CronPattern   string    `gorm:"column:cron_pattern;size:100" json:"cronPattern"`
	RepeatJobKey  *string   `gorm:"column:repeat_job_key;size:255" json:"repeatJobKey"`
	ConfigVersion int       `gorm:"column:config_version;default:0" json:"configVersion"`
	Config        string    `gorm:"column:config;type:text" json:"-"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Integration) TableName() string {
	return "integrations"
}

// SyncState stores per-integration watermarks so repeated runs are incremental.
type SyncState struct {
	IntegrationID string    `gorm:"column:integration_id;primaryKey;size:36" json:"integrationId"`
	Key           string    `gorm:"column:key;primaryKey;size:100" json:"key"`
	Value         string    `gorm:"column:value;type:text" json:"value"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (SyncState) TableName() string {
	return "integration_sync_states"
}

// SheetExport marks a timesheet entry as committed to an integration's spreadsheet.
type SheetExport struct {
	IntegrationID string    `gorm:"column:integration_id;primaryKey;size:36" json:"integrationId"`
	EntryID       string    `gorm:"column:entry_id;primaryKey;size:36" json:"entryId"`
	ExportedAt    time.Time `gorm:"column:exported_at" json:"exportedAt"`
}

func (SheetExport) TableName() string {
	return "integration_sheet_exports"
}
