// Package schedule starts workflow runs on at/every/cron schedules. Jobs are
// persisted through the run store, so schedules survive restarts; next-run
// times are recomputed from the spec whenever a job fires.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/selim/orkestra/pkg/run"
)

// NextRun computes the next firing time in unix milliseconds for a schedule,
// relative to now. One-shot "at" schedules return their timestamp even when
// it is already in the past; the caller decides whether to fire or drop.
func NextRun(spec run.ScheduleSpec, now time.Time) (int64, error) {
	switch spec.Kind {
	case run.ScheduleAt:
		return nextAt(spec)
	case run.ScheduleEvery:
		return nextEvery(spec, now)
	case run.ScheduleCron:
		return nextCron(spec, now)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", spec.Kind)
	}
}

func nextAt(spec run.ScheduleSpec) (int64, error) {
	if spec.At == "" {
		return 0, fmt.Errorf("'at' schedule requires an 'at' timestamp")
	}
	t, err := time.Parse(time.RFC3339, spec.At)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t.UnixMilli(), nil
}

func nextEvery(spec run.ScheduleSpec, now time.Time) (int64, error) {
	if spec.EveryMs <= 0 {
		return 0, fmt.Errorf("'every' schedule requires a positive interval")
	}
	return now.UnixMilli() + spec.EveryMs, nil
}

func nextCron(spec run.ScheduleSpec, now time.Time) (int64, error) {
	if spec.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires an expression")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	if spec.TZ != "" {
		loc, err := time.LoadLocation(spec.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now).UnixMilli(), nil
}
