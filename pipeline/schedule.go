package pipeline

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/plumb/errors"
)

// ParseSchedule parses a standard five-field cron expression or a descriptor such as @hourly
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrValidation, "invalid schedule %q: %v", expr, err),
			"use a five-field cron expression like \"0 * * * *\" or a descriptor like @daily",
		)
	}
	return sched, nil
}

// NextRun returns the next activation after from, or nil when no schedule is set.
// The engine never triggers from this; it is informational for external schedulers.
func NextRun(expr string, from time.Time) *time.Time {
	if expr == "" {
		return nil
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil
	}
	next := sched.Next(from)
	if next.IsZero() {
		return nil
	}
	return &next
}
