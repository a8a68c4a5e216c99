// Package schedule triggers the daily notification run. The notifier
// engine itself is clock-free; this is the periodic invoker around it.
package schedule

import (
	"context"
	"log"
	"time"
)

// NextRun returns the next wall-clock occurrence of hour:minute in loc
// strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Daily calls fn at hour:minute in loc, once per day, until ctx is done.
// fn receives the run's calendar date. Runs are serialized; a slow fn
// simply delays the next tick computation.
func Daily(ctx context.Context, hour, minute int, loc *time.Location, fn func(date time.Time)) {
	for {
		next := NextRun(time.Now(), hour, minute, loc)
		log.Printf("schedule: next run at %s", next.Format("2006-01-02 15:04 MST"))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		y, m, d := next.Date()
		fn(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	}
}
