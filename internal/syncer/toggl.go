package syncer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"timesheet/internal/integration"
	"timesheet/internal/models"
	"timesheet/internal/repository"
	"timesheet/internal/toggl"
)

const (
	// stateLastSyncedAt is the Toggl watermark key, stored as RFC 3339.
	stateLastSyncedAt = "toggl.lastSyncedAt"
	// watermarkOverlap re-reads the tail of the previous window so late edits are picked up.
	watermarkOverlap = 24 * time.Hour

	sourceToggl   = "toggl"
	noProjectName = "No Project"
	noDescription = "No description"
)

var ticketRefPattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)-(\d+)\b`)

// TogglAPI is the part of the Toggl API the import needs; *toggl.Client satisfies it.
type TogglAPI interface {
	WorkspaceUsers(ctx context.Context, workspaceID int64) ([]toggl.User, error)
	Projects(ctx context.Context, workspaceID int64) ([]toggl.Project, error)
	TimeEntries(ctx context.Context, workspaceID int64, from, to time.Time) ([]toggl.TimeEntry, error)
}

// TogglHandler imports Toggl time entries into the timesheet.
type TogglHandler struct {
	newClient func(apiKey string) TogglAPI
	store     TimesheetStore
	state     StateStore
	now       func() time.Time
}

func NewTogglHandler(newClient func(apiKey string) TogglAPI, store TimesheetStore, state StateStore) *TogglHandler {
	return &TogglHandler{newClient: newClient, store: store, state: state, now: time.Now}
}

func (h *TogglHandler) Run(ctx context.Context, integ *models.Integration, cfg integration.TogglConfig, log *RunLog) error {
	now := h.now().UTC()
	from, err := h.windowStart(ctx, integ.ID, cfg, now)
	if err != nil {
		return err
	}
	log.Info("Scanning Toggl workspace %d from %s to %s", cfg.WorkspaceID, from.Format(time.RFC3339), now.Format(time.RFC3339))

	client := h.newClient(cfg.APIKey)
	togglUsers, err := client.WorkspaceUsers(ctx, cfg.WorkspaceID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	projects, err := client.Projects(ctx, cfg.WorkspaceID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := client.TimeEntries(ctx, cfg.WorkspaceID, from, now)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	users, err := h.mapUsers(ctx, integ.WorkspaceID, cfg, togglUsers, log)
	if err != nil {
		return err
	}
	projectNames := make(map[int64]string, len(projects))
	for _, p := range projects {
		projectNames[p.ID] = p.Name
	}

	imp := &togglImport{
		store:       h.store,
		workspaceID: integ.WorkspaceID,
		projects:    make(map[string]*models.Project),
		tasks:       make(map[string]*models.Task),
	}
	imported, skipped := 0, 0
	// The watermark may not pass an entry that could import on a later run.
	watermark := now
	holdBack := func(te toggl.TimeEntry) {
		skipped++
		if start := te.Start.UTC(); start.Before(watermark) {
			watermark = start
		}
	}
	for _, te := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if te.Start.Before(from) {
			continue
		}
		if te.Stop == nil {
			log.Warn("Skipping running Toggl entry %d", te.ID)
			holdBack(te)
			continue
		}
		user, ok := users[te.UserID]
		if !ok {
			log.Warn("Skipping Toggl entry %d: Toggl user %d is not mapped to a timesheet user", te.ID, te.UserID)
			holdBack(te)
			continue
		}
		projectName := noProjectName
		if te.ProjectID != nil {
			if name, ok := projectNames[*te.ProjectID]; ok {
				projectName = name
			}
		}
		if err := imp.entry(ctx, te, user, projectName); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Failed to import Toggl entry %d: %v", te.ID, err)
			holdBack(te)
			continue
		}
		imported++
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.state.Set(ctx, integ.ID, stateLastSyncedAt, watermark.Format(time.RFC3339)); err != nil {
		return err
	}
	log.Info("Imported %d Toggl entries, skipped %d", imported, skipped)
	if watermark.Before(now) {
		log.Info("Next scan resumes from %s to pick up skipped entries", watermark.Format(time.RFC3339))
	}
	return nil
}

// windowStart is the later of now minus the scan period and the stored watermark minus the overlap.
func (h *TogglHandler) windowStart(ctx context.Context, integrationID string, cfg integration.TogglConfig, now time.Time) (time.Time, error) {
	days := cfg.ScanPeriod
	if days > integration.MaxScanPeriodDays {
		days = integration.MaxScanPeriodDays
	}
	from := now.AddDate(0, 0, -days)

	raw, ok, err := h.state.Get(ctx, integrationID, stateLastSyncedAt)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return from, nil
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return from, nil
	}
	if wm := last.Add(-watermarkOverlap); wm.After(from) {
		return wm, nil
	}
	return from, nil
}

// mapUsers resolves Toggl user ids to timesheet users through the email map, falling back
// to the Toggl email itself. Unmatched users are created when the config asks for it.
func (h *TogglHandler) mapUsers(ctx context.Context, workspaceID string, cfg integration.TogglConfig, togglUsers []toggl.User, log *RunLog) (map[int64]models.User, error) {
	byEmail, err := h.store.UsersByEmail(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	emailMap := make(map[string]string, len(cfg.UserEmailMap))
	for from, to := range cfg.UserEmailMap {
		emailMap[normalizeEmail(from)] = normalizeEmail(to)
	}

	out := make(map[int64]models.User, len(togglUsers))
	for _, tu := range togglUsers {
		email := normalizeEmail(tu.Email)
		if mapped, ok := emailMap[email]; ok {
			email = mapped
		}
		user, ok := byEmail[email]
		if !ok && cfg.CreateMissingUsers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			created := models.User{WorkspaceID: workspaceID, Email: email, Name: tu.FullName}
			if err := h.store.CreateUser(ctx, &created); err != nil {
				log.Warn("Failed to create timesheet user for Toggl user %s: %v", tu.Email, err)
				continue
			}
			log.Info("Created timesheet user %s for Toggl user %d", email, tu.ID)
			byEmail[email] = created
			user, ok = created, true
		}
		if !ok {
			log.Warn("No timesheet user for Toggl user %s", tu.Email)
			continue
		}
		out[tu.ID] = user
	}
	return out, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// togglImport caches the projects and tasks touched during one run.
type togglImport struct {
	store       TimesheetStore
	workspaceID string
	projects    map[string]*models.Project
	tasks       map[string]*models.Task
}

func (imp *togglImport) entry(ctx context.Context, te toggl.TimeEntry, user models.User, projectName string) error {
	project, ok := imp.projects[projectName]
	if !ok {
		p, err := imp.store.FindOrCreateProject(ctx, imp.workspaceID, projectName)
		if err != nil {
			return err
		}
		project = p
		imp.projects[projectName] = p
	}

	ref := taskRefFor(te.Description)
	cacheKey := project.ID + "|" + ref.Name
	if ref.TicketNumber != nil {
		cacheKey = ref.TicketPrefix + "-" + strconv.Itoa(*ref.TicketNumber)
	}
	task, ok := imp.tasks[cacheKey]
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := imp.store.FindOrCreateTask(ctx, imp.workspaceID, project.ID, ref)
		if err != nil {
			return err
		}
		task = t
		imp.tasks[cacheKey] = t
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	externalID := "toggl:" + strconv.FormatInt(te.ID, 10)
	return imp.store.UpsertEntry(ctx, &models.TimesheetEntry{
		WorkspaceID: imp.workspaceID,
		UserID:      user.ID,
		TaskID:      task.ID,
		Start:       te.Start.UTC(),
		End:         te.Stop.UTC(),
		Source:      sourceToggl,
		ExternalID:  &externalID,
	})
}

// taskRefFor turns "ABC-123 fix login" into a ticket reference with no name yet;
// anything else becomes a plain named task.
func taskRefFor(description string) repository.TaskRef {
	description = strings.TrimSpace(description)
	if m := ticketRefPattern.FindStringSubmatch(description); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return repository.TaskRef{TicketPrefix: m[1], TicketNumber: &n}
		}
	}
	if description == "" {
		description = noDescription
	}
	return repository.TaskRef{Name: description}
}
