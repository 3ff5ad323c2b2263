package overtime

import (
	"context"
	"fmt"
	"time"

	"timesheet/internal/models"
)

// EntrySource loads a user's entries starting in [from, to) with task and project names.
type EntrySource interface {
	ListEntriesForUser(ctx context.Context, userID string, from, to time.Time) ([]models.TimesheetEntry, error)
}

// Service computes ledgers from stored timesheet entries.
type Service struct {
	entries           EntrySource
	nonWorkingProject string
}

func NewService(entries EntrySource, nonWorkingProject string) *Service {
	if nonWorkingProject == "" {
		nonWorkingProject = DefaultNonWorkingProject
	}
	return &Service{entries: entries, nonWorkingProject: nonWorkingProject}
}

// MonthlyStats computes one month for a user.
func (s *Service) MonthlyStats(ctx context.Context, userID string, year int, month time.Month, opening time.Duration) (MonthlySummary, error) {
	if month < time.January || month > time.December {
		return MonthlySummary{}, fmt.Errorf("invalid month %d", month)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	entries, err := s.entries.ListEntriesForUser(ctx, userID, first, first.AddDate(0, 1, 0))
	if err != nil {
		return MonthlySummary{}, err
	}
	return ComputeMonthlyStats(FromModels(entries), year, month, Options{
		NonWorkingProject: s.nonWorkingProject,
		OpeningBalance:    opening,
	}), nil
}

// Range computes consecutive months from the month of from through the month of to,
// carrying each month's closing balance into the next month's opening balance.
func (s *Service) Range(ctx context.Context, userID string, from, to time.Time, opening time.Duration) ([]MonthlySummary, error) {
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	if last.Before(cur) {
		return nil, fmt.Errorf("range end %s is before start %s", last.Format("2006-01"), cur.Format("2006-01"))
	}

	var out []MonthlySummary
	balance := opening
	for ; !cur.After(last); cur = cur.AddDate(0, 1, 0) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary, err := s.MonthlyStats(ctx, userID, cur.Year(), cur.Month(), balance)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
		balance = summary.closing
	}
	return out, nil
}
