// Package scheduler drives periodic card work from cron schedules: the
// timer-tick refresh, the hourly cache sweep and entity state polling.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"panelcal/internal/card"
	"panelcal/internal/config"
	appLog "panelcal/internal/log"
)

const (
	// SweepSpec runs the cache sweep.
	SweepSpec = "@hourly"
	// PollSpec polls entity state tokens.
	PollSpec = "@every 1m"
)

// Card is the subset of *card.Card the scheduler drives.
type Card interface {
	Async(ctx context.Context, t card.Trigger)
	Sweep() int
	StateChanged(ctx context.Context) (bool, error)
}

// Scheduler owns a cron runner bound to the display timezone.
type Scheduler struct {
	cron *cron.Cron
	ids  map[string]cron.EntryID
}

// New returns a stopped Scheduler evaluating schedules in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	l := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		ids: make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. Re-adding a name replaces the old entry.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}
	if old, ok := s.ids[name]; ok {
		s.cron.Remove(old)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.ids[name] = id
	appLog.Debug("job scheduled", "name", name, "spec", spec)
	return nil
}

// Wire registers the card jobs for cfg. ctx bounds the work each job
// starts.
func (s *Scheduler) Wire(ctx context.Context, c Card, cfg *config.Config) error {
	if err := s.Add("refresh", cfg.RefreshCron, func() {
		c.Async(ctx, card.TriggerTimerTick)
	}); err != nil {
		return err
	}
	if err := s.Add("sweep", SweepSpec, func() {
		c.Sweep()
	}); err != nil {
		return err
	}
	return s.Add("poll", PollSpec, func() {
		if _, err := c.StateChanged(ctx); err != nil {
			appLog.Error("state poll failed", err)
		}
	})
}

// Run calls the job registered under name once, synchronously, through the
// same recovery chain as a scheduled run.
func (s *Scheduler) Run(name string) bool {
	id, ok := s.ids[name]
	if !ok {
		return false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return false
	}
	e.WrappedJob.Run()
	return true
}

// Next returns when the job under name runs next. It is zero before Start.
func (s *Scheduler) Next(name string) time.Time {
	id, ok := s.ids[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("scheduler started", "jobs", len(s.ids))
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Info("scheduler stop timed out")
	}
}

// cronLogger routes cron's own logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
