package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunSweepSchedule runs the maintenance sweep on a cron schedule until ctx
// is cancelled. An unparseable expression is an error, not a silent no-op.
func (r *Registry) RunSweepSchedule(ctx context.Context, expr string) error {
	sched, err := sweepParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("bridge: sweep schedule %q: %w", expr, err)
	}

	for {
		wait := time.Until(sched.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			r.Sweep(ctx)
		}
	}
}
