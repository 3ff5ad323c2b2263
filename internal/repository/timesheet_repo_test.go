package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timesheet/internal/models"
	"timesheet/internal/testutil"
)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestTimesheetRepository_FindOrCreate(t *testing.T) {
	repo := NewTimesheetRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	p1, err := repo.FindOrCreateProject(ctx, "ws", "Website")
	require.NoError(t, err)
	p2, err := repo.FindOrCreateProject(ctx, "ws", "Website")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	other, err := repo.FindOrCreateProject(ctx, "ws-2", "Website")
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, other.ID)

	named, err := repo.FindOrCreateTask(ctx, "ws", p1.ID, TaskRef{Name: "Design"})
	require.NoError(t, err)
	again, err := repo.FindOrCreateTask(ctx, "ws", p1.ID, TaskRef{Name: "Design"})
	require.NoError(t, err)
	assert.Equal(t, named.ID, again.ID)

	ticket, err := repo.FindOrCreateTask(ctx, "ws", p1.ID, TaskRef{TicketPrefix: "ABC", TicketNumber: intPtr(12)})
	require.NoError(t, err)
	assert.Empty(t, ticket.Name)

	p3, err := repo.FindOrCreateProject(ctx, "ws", "Backend")
	require.NoError(t, err)
	sameTicket, err := repo.FindOrCreateTask(ctx, "ws", p3.ID, TaskRef{TicketPrefix: "ABC", TicketNumber: intPtr(12)})
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, sameTicket.ID, "a ticket maps to one task across projects")
}

func TestTimesheetRepository_UpsertAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTimesheetRepository(db)
	ctx := context.Background()

	project, err := repo.FindOrCreateProject(ctx, "ws", "Website")
	require.NoError(t, err)
	task, err := repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{Name: "Design"})
	require.NoError(t, err)

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	entry := &models.TimesheetEntry{
		WorkspaceID: "ws",
		UserID:      "u1",
		TaskID:      task.ID,
		Start:       start,
		End:         start.Add(time.Hour),
		Source:      "toggl",
		ExternalID:  strPtr("toggl:1"),
	}
	require.NoError(t, repo.UpsertEntry(ctx, entry))

	updated := &models.TimesheetEntry{
		WorkspaceID: "ws",
		UserID:      "u1",
		TaskID:      task.ID,
		Start:       start,
		End:         start.Add(2 * time.Hour),
		Source:      "toggl",
		ExternalID:  strPtr("toggl:1"),
	}
	require.NoError(t, repo.UpsertEntry(ctx, updated))

	var count int64
	db.Model(&models.TimesheetEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)

	entries, err := repo.ListEntriesForUser(ctx, "u1", start.Add(-time.Hour), start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2*time.Hour, entries[0].End.Sub(entries[0].Start))
	require.NotNil(t, entries[0].Task)
	require.NotNil(t, entries[0].Task.Project)
	assert.Equal(t, "Website", entries[0].Task.Project.Name)

	entries, err = repo.ListEntriesForUser(ctx, "u1", start.Add(time.Minute), start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTimesheetRepository_Tickets(t *testing.T) {
	repo := NewTimesheetRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	project, err := repo.FindOrCreateProject(ctx, "ws", "Website")
	require.NoError(t, err)
	t1, err := repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{TicketPrefix: "ABC", TicketNumber: intPtr(2)})
	require.NoError(t, err)
	_, err = repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{TicketPrefix: "ABC", TicketNumber: intPtr(1)})
	require.NoError(t, err)
	_, err = repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{TicketPrefix: "XYZ", TicketNumber: intPtr(1)})
	require.NoError(t, err)
	_, err = repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{Name: "Plain"})
	require.NoError(t, err)

	unresolved, err := repo.ListUnresolvedTickets(ctx, "ws", "ABC")
	require.NoError(t, err)
	require.Len(t, unresolved, 2)
	assert.Equal(t, 1, *unresolved[0].TicketNumber)

	require.NoError(t, repo.ResolveTicket(ctx, t1.ID, "Fix login", "10002"))

	unresolved, err = repo.ListUnresolvedTickets(ctx, "ws", "ABC")
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, 1, *unresolved[0].TicketNumber)
}

func TestTimesheetRepository_Export(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewTimesheetRepository(db)
	ctx := context.Background()

	user := &models.User{WorkspaceID: "ws", Email: "ann@example.com", Name: "Ann"}
	require.NoError(t, repo.CreateUser(ctx, user))
	project, err := repo.FindOrCreateProject(ctx, "ws", "Website")
	require.NoError(t, err)
	task, err := repo.FindOrCreateTask(ctx, "ws", project.ID, TaskRef{Name: "Design"})
	require.NoError(t, err)

	old := time.Now().UTC().AddDate(0, 0, -5)
	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, db.Create(&models.TimesheetEntry{
			ID: id, WorkspaceID: "ws", UserID: user.ID, TaskID: task.ID,
			Start: old, End: old.Add(time.Hour), CreatedAt: old,
		}).Error)
	}
	require.NoError(t, db.Create(&models.TimesheetEntry{
		ID: "fresh", WorkspaceID: "ws", UserID: user.ID, TaskID: task.ID,
		Start: time.Now().UTC(), End: time.Now().UTC().Add(time.Hour),
	}).Error)

	cutoff := time.Now().UTC().AddDate(0, 0, -3)
	pending, err := repo.ListUnexported(ctx, "int-1", "ws", cutoff, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NotNil(t, pending[0].User)
	assert.Equal(t, "ann@example.com", pending[0].User.Email)
	require.NotNil(t, pending[0].Task.Project)

	require.NoError(t, repo.MarkExported(ctx, "int-1", []string{"e1"}, time.Now()))
	require.NoError(t, repo.MarkExported(ctx, "int-1", []string{"e1"}, time.Now()))

	pending, err = repo.ListUnexported(ctx, "int-1", "ws", cutoff, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].ID)

	pending, err = repo.ListUnexported(ctx, "int-2", "ws", cutoff, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "exports are tracked per integration")
}

func TestTimesheetRepository_UsersByEmail(t *testing.T) {
	repo := NewTimesheetRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, &models.User{WorkspaceID: "ws", Email: "Ann@Example.com"}))
	require.NoError(t, repo.CreateUser(ctx, &models.User{WorkspaceID: "other", Email: "bob@example.com"}))

	users, err := repo.UsersByEmail(ctx, "ws")
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Contains(t, users, "ann@example.com")
}
