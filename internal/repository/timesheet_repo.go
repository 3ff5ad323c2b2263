package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timesheet/internal/models"
)

// TimesheetRepository handles users, projects, tasks and timesheet entries.
type TimesheetRepository struct {
	db *gorm.DB
}

func NewTimesheetRepository(db *gorm.DB) *TimesheetRepository {
	return &TimesheetRepository{db: db}
}

// TaskRef identifies a task either by name or by ticket reference.
type TaskRef struct {
	Name         string
	TicketPrefix string
	TicketNumber *int
}

// UsersByEmail maps lower-cased email to user for a workspace.
func (r *TimesheetRepository) UsersByEmail(ctx context.Context, workspaceID string) (map[string]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list workspace users: %w", err)
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[strings.ToLower(strings.TrimSpace(u.Email))] = u
	}
	return out, nil
}

func (r *TimesheetRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *TimesheetRepository) FindOrCreateProject(ctx context.Context, workspaceID, name string) (*models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", workspaceID, name).
		First(&project).Error
	if err == nil {
		return &project, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	project = models.Project{ID: uuid.NewString(), WorkspaceID: workspaceID, Name: name}
	if err := r.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &project, nil
}

// FindOrCreateTask looks a task up by ticket reference when one is given, by name otherwise.
func (r *TimesheetRepository) FindOrCreateTask(ctx context.Context, workspaceID, projectID string, ref TaskRef) (*models.Task, error) {
	var task models.Task
	q := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if ref.TicketNumber != nil {
		q = q.Where("ticket_prefix = ? AND ticket_number = ?", ref.TicketPrefix, *ref.TicketNumber)
	} else {
		q = q.Where("project_id = ? AND name = ?", projectID, ref.Name)
	}
	err := q.First(&task).Error
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	task = models.Task{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		ProjectID:    projectID,
		Name:         ref.Name,
		TicketPrefix: ref.TicketPrefix,
		TicketNumber: ref.TicketNumber,
	}
	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &task, nil
}

// UpsertEntry inserts an entry or, when its ExternalID already exists, updates it in place.
func (r *TimesheetRepository) UpsertEntry(ctx context.Context, entry *models.TimesheetEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "task_id", "start_time", "end_time", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert timesheet entry: %w", err)
	}
	return nil
}

// ListEntriesForUser returns entries whose start lies in [from, to), with task and project loaded.
func (r *TimesheetRepository) ListEntriesForUser(ctx context.Context, userID string, from, to time.Time) ([]models.TimesheetEntry, error) {
	var entries []models.TimesheetEntry
	err := r.db.WithContext(ctx).
		Preload("Task.Project").
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userID, from, to).
		Order("start_time ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list timesheet entries: %w", err)
	}
	return entries, nil
}

// ListUnresolvedTickets returns ticket-linked tasks that still lack a ticket id or a name.
func (r *TimesheetRepository) ListUnresolvedTickets(ctx context.Context, workspaceID, prefix string) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND ticket_prefix = ? AND ticket_number IS NOT NULL", workspaceID, prefix).
		Where("(ticket_id IS NULL OR name = ?)", "").
		Order("ticket_number ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved tickets: %w", err)
	}
	return tasks, nil
}

func (r *TimesheetRepository) ResolveTicket(ctx context.Context, taskID, name, ticketID string) error {
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"name":      name,
			"ticket_id": ticketID,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to resolve ticket for task %s: %w", taskID, err)
	}
	return nil
}

// ListUnexported returns workspace entries created at or before cutoff that the integration
// has not committed yet, oldest first.
func (r *TimesheetRepository) ListUnexported(ctx context.Context, integrationID, workspaceID string, cutoff time.Time, limit int) ([]models.TimesheetEntry, error) {
	exported := r.db.Model(&models.SheetExport{}).
		Select("entry_id").
		Where("integration_id = ?", integrationID)

	var entries []models.TimesheetEntry
	q := r.db.WithContext(ctx).
		Preload("Task.Project").
		Preload("User").
		Where("workspace_id = ? AND created_at <= ?", workspaceID, cutoff).
		Where("id NOT IN (?)", exported).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list unexported entries: %w", err)
	}
	return entries, nil
}

func (r *TimesheetRepository) MarkExported(ctx context.Context, integrationID string, entryIDs []string, at time.Time) error {
	if len(entryIDs) == 0 {
		return nil
	}
	rows := make([]models.SheetExport, 0, len(entryIDs))
	for _, id := range entryIDs {
		rows = append(rows, models.SheetExport{IntegrationID: integrationID, EntryID: id, ExportedAt: at})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to mark entries exported: %w", err)
	}
	return nil
}
