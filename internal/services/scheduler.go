package services

import (
	"context"
	"log"
	"time"
)

// NextRun returns the first hour:minute in loc strictly after now
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// DailyScheduler runs a job once a day at a fixed local time
type DailyScheduler struct {
	name string
	hour int
	min  int
	loc  *time.Location
	job  func(ctx context.Context) error
	now  Clock
}

// NewDailyScheduler creates a scheduler for job at hour:minute in loc
func NewDailyScheduler(name string, hour, minute int, loc *time.Location, job func(ctx context.Context) error) *DailyScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyScheduler{name: name, hour: hour, min: minute, loc: loc, job: job, now: time.Now}
}

// Run blocks, running the job at every scheduled time until ctx is cancelled
func (d *DailyScheduler) Run(ctx context.Context) {
	for {
		now := d.now()
		next := NextRun(now, d.hour, d.min, d.loc)
		log.Printf("%s scheduled for %s", d.name, next.Format(time.RFC1123))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("%s scheduler stopped", d.name)
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := d.job(ctx); err != nil {
			log.Printf("%s failed: %v", d.name, err)
			continue
		}
		log.Printf("%s finished in %s", d.name, time.Since(start).Round(time.Millisecond))
	}
}
