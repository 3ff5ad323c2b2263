package integration

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "weekday", min: 0, max: 6},
}

// ValidateCron accepts a 5-field expression "minute hour day month weekday" where every
// field is "*", "*/N", "N" or "N-M" inside the field's bounds.
func ValidateCron(expr string) error {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return validationErrorf("cron pattern %q must have 5 fields, got %d", expr, len(parts))
	}
	for i, part := range parts {
		if err := validateCronField(part, cronFields[i]); err != nil {
			return err
		}
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return validationErrorf("cron pattern %q: %v", expr, err)
	}
	return nil
}

func validateCronField(value string, f cronField) error {
	switch {
	case value == "*":
		return nil
	case strings.HasPrefix(value, "*/"):
		step, err := strconv.Atoi(value[2:])
		if err != nil || step < 1 || step > f.max {
			return validationErrorf("cron %s step %q out of range 1-%d", f.name, value, f.max)
		}
		return nil
	case strings.Contains(value, "-"):
		lo, hi, ok := strings.Cut(value, "-")
		if !ok {
			return validationErrorf("cron %s range %q is malformed", f.name, value)
		}
		from, err1 := f.parse(lo)
		to, err2 := f.parse(hi)
		if err1 != nil || err2 != nil || from > to {
			return validationErrorf("cron %s range %q out of bounds %d-%d", f.name, value, f.min, f.max)
		}
		return nil
	default:
		if _, err := f.parse(value); err != nil {
			return validationErrorf("cron %s value %q out of bounds %d-%d", f.name, value, f.min, f.max)
		}
		return nil
	}
}

func (f cronField) parse(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < f.min || n > f.max {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// NextFire returns the first activation of expr strictly after t.
func NextFire(expr string, t time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, validationErrorf("cron pattern %q: %v", expr, err)
	}
	return schedule.Next(t), nil
}

// Interval is the gap between the next two activations of expr after t.
func Interval(expr string, t time.Time) (time.Duration, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, validationErrorf("cron pattern %q: %v", expr, err)
	}
	first := schedule.Next(t)
	return schedule.Next(first).Sub(first), nil
}
