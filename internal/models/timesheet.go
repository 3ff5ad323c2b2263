package models

import "time"

type Project struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkspaceID string    `gorm:"column:workspace_id;size:36;uniqueIndex:idx_projects_workspace_name,priority:1" json:"workspaceId"`
	Name        string    `gorm:"column:name;size:255;uniqueIndex:idx_projects_workspace_name,priority:2" json:"name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (Project) TableName() string {
	return "projects"
}

// Task belongs to a project. Tasks imported from a ticket reference ("ABC-123") carry
// TicketPrefix/TicketNumber until the ticket is resolved into TicketID and Name.
type Task struct {
	ID           string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkspaceID  string    `gorm:"column:workspace_id;size:36;index:idx_tasks_workspace_ticket,priority:1" json:"workspaceId"`
	ProjectID    string    `gorm:"column:project_id;size:36;index" json:"projectId"`
	Project      *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Name         string    `gorm:"column:name;size:500" json:"name"`
	TicketPrefix string    `gorm:"column:ticket_prefix;size:50;index:idx_tasks_workspace_ticket,priority:2" json:"ticketPrefix"`
	TicketNumber *int      `gorm:"column:ticket_number" json:"ticketNumber"`
	TicketID     *string   `gorm:"column:ticket_id;size:100" json:"ticketId"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Task) TableName() string {
	return "tasks"
}

// TimesheetEntry is a single worked interval. ExternalID makes imports idempotent.
type TimesheetEntry struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkspaceID string    `gorm:"column:workspace_id;size:36;index:idx_entries_workspace_created,priority:1" json:"workspaceId"`
	UserID      string    `gorm:"column:user_id;size:36;index:idx_entries_user_start,priority:1" json:"userId"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TaskID      string    `gorm:"column:task_id;size:36" json:"taskId"`
	Task        *Task     `gorm:"foreignKey:TaskID" json:"task,omitempty"`
	Start       time.Time `gorm:"column:start_time;index:idx_entries_user_start,priority:2" json:"start"`
	End         time.Time `gorm:"column:end_time" json:"end"`
	Source      string    `gorm:"column:source;size:30" json:"source"`
	ExternalID  *string   `gorm:"column:external_id;size:100;uniqueIndex" json:"externalId"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index:idx_entries_workspace_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (TimesheetEntry) TableName() string {
	return "timesheet_entries"
}
