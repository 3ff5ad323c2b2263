package syncer

import (
	"context"
	"time"

	"timesheet/internal/models"
	"timesheet/internal/repository"
)

// TimesheetStore is the timesheet data the handlers read and write;
// *repository.TimesheetRepository satisfies it.
type TimesheetStore interface {
	UsersByEmail(ctx context.Context, workspaceID string) (map[string]models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	FindOrCreateProject(ctx context.Context, workspaceID, name string) (*models.Project, error)
	FindOrCreateTask(ctx context.Context, workspaceID, projectID string, ref repository.TaskRef) (*models.Task, error)
	UpsertEntry(ctx context.Context, entry *models.TimesheetEntry) error
	ListUnresolvedTickets(ctx context.Context, workspaceID, prefix string) ([]models.Task, error)
	ResolveTicket(ctx context.Context, taskID, name, ticketID string) error
	ListUnexported(ctx context.Context, integrationID, workspaceID string, cutoff time.Time, limit int) ([]models.TimesheetEntry, error)
	MarkExported(ctx context.Context, integrationID string, entryIDs []string, at time.Time) error
}

// StateStore keeps per-integration watermarks; *repository.SyncStateRepository satisfies it.
type StateStore interface {
	Get(ctx context.Context, integrationID, key string) (string, bool, error)
	Set(ctx context.Context, integrationID, key, value string) error
}
