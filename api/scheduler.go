/*
scheduler.go - Automated settlement snapshot scheduler

PURPOSE:
  Periodically walks recent pay cycles and records a per-driver snapshot
  of the payout totals for every cycle whose pay date has passed. The
  snapshot freezes what the engine computed at settlement time so later
  edits to loads or settings never silently rewrite a paid statement.

DESIGN:
  - Runs on a cron schedule (robfig/cron); hourly by default
  - Resolves cycles from the stored settings at run time
  - Skips the current open cycle and any cycle/driver pair already recorded
  - Snapshot writes race-safe via the store's uniqueness constraint:
    a duplicate insert comes back as ErrSnapshotExists and is skipped

USAGE:
  sched := NewSnapshotScheduler(store, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - store/sqlite: SaveSnapshot, HasSnapshot
  - handlers.go: ListSnapshots endpoint
*/
package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/haulpay/settlement-engine/settlement"
	"github.com/haulpay/settlement-engine/store/sqlite"
)

// snapshotLookback bounds how many past cycles each run re-examines.
// Half a year of weekly cycles is enough to catch up after downtime.
const snapshotLookback = 26

// SnapshotScheduler records settled cycles in the background.
type SnapshotScheduler struct {
	Store *sqlite.Store
	Log   zerolog.Logger

	// CronSpec is the run schedule. Defaults to hourly.
	CronSpec string

	// Now supplies the wall clock, overridable in tests.
	Now func() time.Time

	cron *cron.Cron
}

// NewSnapshotScheduler creates a scheduler with the default hourly schedule.
func NewSnapshotScheduler(store *sqlite.Store, log zerolog.Logger) *SnapshotScheduler {
	return &SnapshotScheduler{
		Store:    store,
		Log:      log,
		CronSpec: "@hourly",
		Now:      time.Now,
	}
}

// Start begins the cron schedule and runs one catch-up pass immediately.
func (s *SnapshotScheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.CronSpec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.Log.Info().Str("schedule", s.CronSpec).Msg("snapshot scheduler started")

	go s.RunOnce(context.Background())
	return nil
}

// Stop halts the cron schedule and waits for a running pass to finish.
func (s *SnapshotScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info().Msg("snapshot scheduler stopped")
}

// RunOnce records snapshots for every settled cycle/driver pair that does
// not have one yet. Safe to call concurrently with itself.
func (s *SnapshotScheduler) RunOnce(ctx context.Context) {
	now := s.Now()

	settings, err := s.Store.GetSettings(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("snapshot run: failed to load settings")
		return
	}
	drivers, err := s.Store.ListDrivers(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("snapshot run: failed to list drivers")
		return
	}
	if len(drivers) == 0 {
		return
	}

	recorded := 0
	for _, c := range settings.Schedule().List(snapshotLookback, now) {
		// Only cycles whose pay date has passed are settled.
		if !c.PayDate.Before(now) {
			continue
		}

		loads, err := s.Store.ListLoadsInRange(ctx, c.Start, c.End)
		if err != nil {
			s.Log.Error().Err(err).Time("cycle_end", c.End).Msg("snapshot run: failed to list loads")
			continue
		}

		for _, row := range settlement.Rollup(drivers, loads, c, settings.CutoffHour) {
			done, err := s.Store.HasSnapshot(ctx, row.DriverID, c.Start)
			if err != nil {
				s.Log.Error().Err(err).Str("driver_id", row.DriverID).Msg("snapshot run: check failed")
				continue
			}
			if done {
				continue
			}

			rec := sqlite.SnapshotRecord{
				ID:         uuid.NewString(),
				DriverID:   row.DriverID,
				CycleStart: c.Start,
				CycleEnd:   c.End,
				PayDate:    c.PayDate,
				Totals:     row,
				CreatedAt:  now.UTC(),
			}
			if err := s.Store.SaveSnapshot(ctx, rec); err != nil {
				if errors.Is(err, sqlite.ErrSnapshotExists) {
					continue // lost a race to another run
				}
				s.Log.Error().Err(err).Str("driver_id", row.DriverID).Msg("snapshot run: save failed")
				continue
			}
			recorded++
		}
	}

	if recorded > 0 {
		s.Log.Info().Int("recorded", recorded).Msg("snapshot run completed")
	}
}
