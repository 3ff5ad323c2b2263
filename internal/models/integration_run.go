package models

import "time"

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// IntegrationRun is the persisted log of a single integration job execution.
// Entries is a JSON array of {time, level, message}; the row is written once per run.
type IntegrationRun struct {
	ID            string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	IntegrationID string     `gorm:"column:integration_id;size:36;index:idx_integration_runs_integration,priority:1" json:"integrationId"`
	JobID         string     `gorm:"column:job_id;size:255" json:"jobId"`
	Attempt       int        `gorm:"column:attempt;default:1" json:"attempt"`
	Status        string     `gorm:"column:status;size:30" json:"status"`
	Entries       string     `gorm:"column:entries;type:text" json:"entries"`
	StartedAt     time.Time  `gorm:"column:started_at;index:idx_integration_runs_integration,priority:2" json:"startedAt"`
	FinishedAt    *time.Time `gorm:"column:finished_at" json:"finishedAt"`
}

func (IntegrationRun) TableName() string {
	return "integration_runs"
}
