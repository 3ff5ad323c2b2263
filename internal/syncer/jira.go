package syncer

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"timesheet/internal/integration"
	"timesheet/internal/jira"
	"timesheet/internal/models"
)

// JiraHandler fills in names and ticket ids of tasks created from ticket references.
type JiraHandler struct {
	clientFor func(cfg integration.JiraConfig) jira.IssueFinder
	store     TimesheetStore
}

// NewJiraHandler takes a factory so that every client of one Jira host shares its throttle.
func NewJiraHandler(clientFor func(cfg integration.JiraConfig) jira.IssueFinder, store TimesheetStore) *JiraHandler {
	return &JiraHandler{clientFor: clientFor, store: store}
}

func (h *JiraHandler) Run(ctx context.Context, integ *models.Integration, cfg integration.JiraConfig, log *RunLog) error {
	tasks, err := h.store.ListUnresolvedTickets(ctx, integ.WorkspaceID, cfg.TicketPrefix)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		log.Info("No unresolved %s tickets", cfg.TicketPrefix)
		return nil
	}
	log.Info("Resolving %d %s tickets", len(tasks), cfg.TicketPrefix)

	client := h.clientFor(cfg)
	resolved := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if task.TicketNumber == nil {
			continue
		}
		key := fmt.Sprintf("%s-%d", task.TicketPrefix, *task.TicketNumber)

		issue, err := client.FindIssue(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, jira.ErrIssueNotFound) {
				log.Warn("Ticket %s not found yet, will retry next run", key)
			} else {
				log.Warn("Could not fetch ticket %s: %v", key, err)
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.store.ResolveTicket(ctx, task.ID, issue.Summary, issue.ID); err != nil {
			log.Warn("Failed to save ticket %s: %v", key, err)
			continue
		}
		resolved++
	}

	log.Info("Resolved %d of %d %s tickets", resolved, len(tasks), cfg.TicketPrefix)
	return nil
}
