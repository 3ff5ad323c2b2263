package models

import "time"

// User is a workspace member that timesheet entries belong to.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	WorkspaceID string    `gorm:"column:workspace_id;size:36;uniqueIndex:idx_users_workspace_email,priority:1" json:"workspaceId"`
	Email       string    `gorm:"column:email;size:255;uniqueIndex:idx_users_workspace_email,priority:2" json:"email"`
	Name        string    `gorm:"column:name;size:255" json:"name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
