package overtime

import (
	"math"
	"sort"
	"time"

	"timesheet/internal/models"
)

const (
	// StandardDay is the working time a work day is expected to hold.
	StandardDay = 8 * time.Hour

	DefaultNonWorkingProject = "Non-Working"
	toilTaskName             = "TOIL"
)

type Category int

const (
	Working Category = iota
	NonWorking
	TOIL
)

// Entry is a worked interval with the names that decide its category.
type Entry struct {
	Start       time.Time
	End         time.Time
	TaskName    string
	ProjectName string
}

type Options struct {
	// NonWorkingProject names the project whose time is not regular work.
	NonWorkingProject string
	// OpeningBalance is the overtime balance carried over from the previous month.
	OpeningBalance time.Duration
}

// DailyLedger is one calendar day. Hour figures are rounded to 2 decimals.
type DailyLedger struct {
	Date            string  `json:"date"`
	Weekday         string  `json:"weekday"`
	WorkDay         bool    `json:"workDay"`
	TotalHours      float64 `json:"totalHours"`
	WorkingHours    float64 `json:"workingHours"`
	NonWorkingHours float64 `json:"nonWorkingHours"`
	ToilHours       float64 `json:"toilHours"`
	// ToilAdjustment is ToilHours as it is booked against overtime, i.e. negated.
	ToilAdjustment float64 `json:"toilAdjustment"`
	OvertimeHours  float64 `json:"overtimeHours"`
	NetHours       float64 `json:"netHours"`
}

type MonthlySummary struct {
	Year            int           `json:"year"`
	Month           int           `json:"month"`
	Days            []DailyLedger `json:"days"`
	WorkingDays     int           `json:"workingDays"`
	TargetHours     float64       `json:"targetHours"`
	TotalHours      float64       `json:"totalHours"`
	WorkingHours    float64       `json:"workingHours"`
	NonWorkingHours float64       `json:"nonWorkingHours"`
	ToilHours       float64       `json:"toilHours"`
	ToilAdjustment  float64       `json:"toilAdjustment"`
	OvertimeHours   float64       `json:"overtimeHours"`
	NetHours        float64       `json:"netHours"`
	HoursOverUnder  float64       `json:"hoursOverUnder"`
	OpeningBalance  float64       `json:"openingBalance"`
	ClosingBalance  float64       `json:"closingBalance"`

	closing time.Duration
}

// day accumulates exact durations; rounding happens only in the ledger output.
type day struct {
	date       time.Time
	workDay    bool
	total      time.Duration
	working    time.Duration
	nonWorking time.Duration
	toil       time.Duration
	overtime   time.Duration
	net        time.Duration
}

// Categorize classifies an entry by its task and project names.
func Categorize(taskName, projectName, nonWorkingProject string) Category {
	if projectName != nonWorkingProject {
		return Working
	}
	if taskName == toilTaskName {
		return TOIL
	}
	return NonWorking
}

// IsWorkDay reports whether d falls Monday to Friday.
func IsWorkDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// ComputeMonthlyStats builds the ledger of every day of the month from entries. Entries are
// assigned to the UTC date of their start; entries starting outside the month are ignored.
func ComputeMonthlyStats(entries []Entry, year int, month time.Month, opts Options) MonthlySummary {
	if opts.NonWorkingProject == "" {
		opts.NonWorkingProject = DefaultNonWorkingProject
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	byDay := make(map[string][]Entry)
	for _, e := range entries {
		start := e.Start.UTC()
		if start.Before(first) || !start.Before(next) {
			continue
		}
		key := start.Format(time.DateOnly)
		byDay[key] = append(byDay[key], e)
	}

	var (
		days        []day
		workingDays int
	)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		dd := computeDay(d, byDay[d.Format(time.DateOnly)], opts.NonWorkingProject)
		if dd.workDay {
			workingDays++
		}
		days = append(days, dd)
	}

	summary := MonthlySummary{
		Year:        year,
		Month:       int(month),
		Days:        make([]DailyLedger, 0, len(days)),
		WorkingDays: workingDays,
	}
	var total, working, nonWorking, toil, overtime, net time.Duration
	for _, d := range days {
		summary.Days = append(summary.Days, d.ledger())
		total += d.total
		working += d.working
		nonWorking += d.nonWorking
		toil += d.toil
		overtime += d.overtime
		net += d.net
	}
	target := time.Duration(workingDays) * StandardDay

	summary.TargetHours = hours(target)
	summary.TotalHours = hours(total)
	summary.WorkingHours = hours(working)
	summary.NonWorkingHours = hours(nonWorking)
	summary.ToilHours = hours(toil)
	summary.ToilAdjustment = hours(-toil)
	summary.OvertimeHours = hours(overtime)
	summary.NetHours = hours(net)
	summary.HoursOverUnder = hours(net - target)
	summary.OpeningBalance = hours(opts.OpeningBalance)
	summary.closing = opts.OpeningBalance + overtime
	summary.ClosingBalance = hours(summary.closing)
	return summary
}

func computeDay(date time.Time, entries []Entry, nonWorkingProject string) day {
	d := day{date: date, workDay: IsWorkDay(date)}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})

	var timeWorkedInDay time.Duration
	for _, e := range entries {
		duration := e.End.Sub(e.Start)
		if duration <= 0 {
			continue
		}
		d.total += duration

		switch Categorize(e.TaskName, e.ProjectName, nonWorkingProject) {
		case TOIL:
			d.toil += duration
			d.overtime -= duration
		case NonWorking:
			d.nonWorking += duration
			if !d.workDay {
				d.overtime += duration
			}
		case Working:
			d.working += duration
			switch {
			case !d.workDay:
				d.overtime += duration
			case timeWorkedInDay >= StandardDay:
				d.overtime += duration
			case timeWorkedInDay+duration > StandardDay:
				d.overtime += timeWorkedInDay + duration - StandardDay
			}
			timeWorkedInDay += duration
		}
	}

	// Only work days carry a standard share. On other days all time, non-working time
	// included, is already in overtime and is not counted twice.
	if d.workDay {
		standard := d.working
		if standard > StandardDay {
			standard = StandardDay
		}
		d.net = standard + d.nonWorking + d.overtime
	} else {
		d.net = d.overtime
	}
	return d
}

func (d day) ledger() DailyLedger {
	return DailyLedger{
		Date:            d.date.Format(time.DateOnly),
		Weekday:         d.date.Weekday().String(),
		WorkDay:         d.workDay,
		TotalHours:      hours(d.total),
		WorkingHours:    hours(d.working),
		NonWorkingHours: hours(d.nonWorking),
		ToilHours:       hours(d.toil),
		ToilAdjustment:  hours(-d.toil),
		OvertimeHours:   hours(d.overtime),
		NetHours:        hours(d.net),
	}
}

// hours converts to hours rounded half away from zero to 2 decimals.
func hours(d time.Duration) float64 {
	h := math.Round(d.Hours()*100) / 100
	if h == 0 {
		return 0 // no negative zero in output
	}
	return h
}

// FromModels converts stored entries; entries without a loaded task land in the working category.
func FromModels(entries []models.TimesheetEntry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		entry := Entry{Start: e.Start, End: e.End}
		if e.Task != nil {
			entry.TaskName = e.Task.Name
			if e.Task.Project != nil {
				entry.ProjectName = e.Task.Project.Name
			}
		}
		out = append(out, entry)
	}
	return out
}
