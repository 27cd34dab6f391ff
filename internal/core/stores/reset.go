package stores

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultDailyReset fires at local midnight.
const DefaultDailyReset = "0 0 * * *"

// DailyResetter is a store with per-day counters.
type DailyResetter interface {
	ResetDaily()
}

// DailyReset zeroes the per-day counters of a set of stores on a cron
// schedule.
type DailyReset struct {
	cron *cron.Cron
	loc  *time.Location
	log  zerolog.Logger

	mu      sync.Mutex
	targets []*resetTarget
}

type resetTarget struct {
	DailyResetter
}

// NewDailyReset runs the reset on schedule (standard five-field cron syntax or a
// descriptor such as @midnight) in loc. Call Start to begin.
func NewDailyReset(schedule string, loc *time.Location, log zerolog.Logger, targets ...DailyResetter) (*DailyReset, error) {
	if loc == nil {
		loc = time.Local
	}

	d := &DailyReset{
		cron: cron.New(cron.WithLocation(loc)),
		loc:  loc,
		log:  log,
	}
	for _, t := range targets {
		d.Add(t)
	}
	if _, err := d.cron.AddFunc(schedule, d.Run); err != nil {
		return nil, fmt.Errorf("parse daily reset schedule %q: %w", schedule, err)
	}
	return d, nil
}

// Add includes t in every following reset until remove is called.
func (d *DailyReset) Add(t DailyResetter) (remove func()) {
	entry := &resetTarget{t}
	d.mu.Lock()
	d.targets = append(d.targets, entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.targets = slices.DeleteFunc(d.targets, func(e *resetTarget) bool { return e == entry })
	}
}

// Run resets every target immediately.
func (d *DailyReset) Run() {
	d.mu.Lock()
	targets := slices.Clone(d.targets)
	d.mu.Unlock()

	for _, t := range targets {
		t.ResetDaily()
	}
	d.log.Info().Int("stores", len(targets)).Msg("daily counters reset")
}

// Start runs the scheduler in the background.
func (d *DailyReset) Start() { d.cron.Start() }

// Next returns the next scheduled reset.
func (d *DailyReset) Next() time.Time {
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if next := entries[0].Next; !next.IsZero() {
		return next
	}
	return entries[0].Schedule.Next(time.Now().In(d.loc))
}

// Stop halts the scheduler and waits for a running reset to finish.
func (d *DailyReset) Stop() {
	<-d.cron.Stop().Done()
}
