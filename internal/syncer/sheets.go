package syncer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"timesheet/internal/integration"
	"timesheet/internal/models"
)

const sheetExportBatch = 1000

// SheetWriter appends rows to a spreadsheet; *sheets.Client satisfies it.
type SheetWriter interface {
	AppendRows(ctx context.Context, spreadsheetID, sheetName string, rows [][]interface{}) (int, error)
}

// SheetsHandler commits timesheet entries to a spreadsheet once they are older than the
// configured delay, so manual corrections can land first.
type SheetsHandler struct {
	newWriter func(ctx context.Context, serviceAccountJSON []byte) (SheetWriter, error)
	store     TimesheetStore
	now       func() time.Time
}

func NewSheetsHandler(newWriter func(ctx context.Context, serviceAccountJSON []byte) (SheetWriter, error), store TimesheetStore) *SheetsHandler {
	return &SheetsHandler{newWriter: newWriter, store: store, now: time.Now}
}

func (h *SheetsHandler) Run(ctx context.Context, integ *models.Integration, cfg integration.GoogleSheetsConfig, log *RunLog) error {
	now := h.now().UTC()
	cutoff := now.AddDate(0, 0, -cfg.CommitDelayDays)

	entries, err := h.store.ListUnexported(ctx, integ.ID, integ.WorkspaceID, cutoff, sheetExportBatch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		log.Info("No entries older than %d days to export", cfg.CommitDelayDays)
		return nil
	}

	rows := make([][]interface{}, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		row, err := sheetRow(e)
		if err != nil {
			log.Warn("Skipping entry %s: %v", e.ID, err)
			continue
		}
		rows = append(rows, row)
		ids = append(ids, e.ID)
	}
	if len(rows) == 0 {
		log.Warn("None of %d pending entries could be exported", len(entries))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	writer, err := h.newWriter(ctx, []byte(cfg.ServiceAccountJSON))
	if err != nil {
		return err
	}
	written, err := writer.AppendRows(ctx, cfg.SpreadsheetID, cfg.SheetName, rows)
	if err != nil {
		return err
	}

	// The rows are in the sheet already; record them even when the run is cancelled.
	if err := h.store.MarkExported(context.WithoutCancel(ctx), integ.ID, ids, now); err != nil {
		return err
	}
	log.Info("Exported %d entries to %s/%s", written, cfg.SpreadsheetID, cfg.SheetName)
	return nil
}

// sheetRow renders: date, user email, user name, project, task, start, end, hours, entry id.
func sheetRow(e models.TimesheetEntry) ([]interface{}, error) {
	if e.User == nil {
		return nil, fmt.Errorf("user %s not found", e.UserID)
	}
	if e.Task == nil {
		return nil, fmt.Errorf("task %s not found", e.TaskID)
	}
	if !e.End.After(e.Start) {
		return nil, fmt.Errorf("end %s is not after start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}

	project := ""
	if e.Task.Project != nil {
		project = e.Task.Project.Name
	}
	task := e.Task.Name
	if task == "" && e.Task.TicketNumber != nil {
		task = e.Task.TicketPrefix + "-" + strconv.Itoa(*e.Task.TicketNumber)
	}
	hours := math.Round(e.End.Sub(e.Start).Hours()*100) / 100

	return []interface{}{
		e.Start.UTC().Format("2006-01-02"),
		e.User.Email,
		e.User.Name,
		project,
		task,
		e.Start.UTC().Format(time.RFC3339),
		e.End.UTC().Format(time.RFC3339),
		hours,
		e.ID,
	}, nil
}
