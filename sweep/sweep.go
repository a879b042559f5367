/*
Package sweep runs the expiry sweep: the hourly job that closes codes
nobody redeemed in time and escalates the rider's strike counter.

DESIGN:
  - robfig/cron drives the schedule ("0 * * * *" by default), with an
    immediate run on start.
  - Each stale ride is processed independently under the SAME per-ride
    lock the handshake uses, so a sweep can never race a concurrent
    scan into a double resolution.
  - The pending->expired transition and the strike increment commit in
    one store transaction. A ride the sweep already expired (or a scan
    completed meanwhile) is skipped, which makes re-runs idempotent:
    no strike is ever counted twice.
  - A failure on one ride is logged and left for the next run; it never
    aborts the rest of the batch.

SEE ALSO:
  - handshake/locks.go: the shared guard
  - events: strike and ban-threshold notifications
*/
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/uma/settlement-engine/events"
	"github.com/uma/settlement-engine/handshake"
	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// DefaultSchedule matches the original hourly strike checker.
const DefaultSchedule = "0 * * * *"

// Stats summarizes one sweep run.
type Stats struct {
	Scanned int // stale pending rides found
	Expired int // successfully transitioned
	Skipped int // resolved by someone else between listing and locking
	Failed  int // left for the next run
}

// =============================================================================
// SWEEPER
// =============================================================================

type Sweeper struct {
	Tx       handshake.TxRunner
	Rides    ride.Store
	Locks    *handshake.KeyedMutex
	Events   *events.Dispatcher
	Window   time.Duration
	LockWait time.Duration
	Schedule string

	// Now is swappable for tests. Nil means time.Now.
	Now func() time.Time

	cron *cron.Cron
}

func New(tx handshake.TxRunner, rides ride.Store, locks *handshake.KeyedMutex, dispatcher *events.Dispatcher) *Sweeper {
	return &Sweeper{
		Tx:       tx,
		Rides:    rides,
		Locks:    locks,
		Events:   dispatcher,
		Window:   ride.DefaultValidityWindow,
		LockWait: handshake.DefaultLockWait,
		Schedule: DefaultSchedule,
	}
}

func (s *Sweeper) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start schedules the sweep and fires one run immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Error("expiry sweep run failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	log.WithField("schedule", s.Schedule).Info("expiry sweep started")

	go func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Error("initial expiry sweep failed")
		}
	}()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		log.Info("expiry sweep stopped")
	}
}

// RunOnce processes every stale pending ride, isolating failures.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	cutoff := s.clock().Add(-s.Window)
	stale, err := s.Rides.ListStalePending(ctx, cutoff)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Scanned: len(stale)}
	for _, r := range stale {
		switch err := s.expireOne(ctx, r); {
		case err == nil:
			stats.Expired++
		case errors.Is(err, ride.ErrAlreadyResolved):
			stats.Skipped++
		default:
			stats.Failed++
			log.WithFields(log.Fields{
				"ride": r.ID, "rider": r.RiderID,
			}).WithError(err).Warn("sweep failed on ride, will retry next run")
		}
	}

	if stats.Scanned > 0 {
		log.WithFields(log.Fields{
			"scanned": stats.Scanned, "expired": stats.Expired,
			"skipped": stats.Skipped, "failed": stats.Failed,
		}).Info("expiry sweep completed")
	}
	return stats, nil
}

// expireOne transitions a single ride and applies the strike, under the
// shared per-ride lock and inside one transaction.
func (s *Sweeper) expireOne(ctx context.Context, r ride.Ride) error {
	release, err := s.Locks.Acquire(ctx, string(r.ID), s.LockWait)
	if err != nil {
		return err
	}
	defer release()

	var strikes int
	err = s.Tx.WithTx(ctx, func(ls ledger.Store, rs ride.Store) error {
		mgr := &ride.Manager{Store: rs, Window: s.Window, Now: s.Now}
		if err := mgr.MarkExpired(ctx, r.ID); err != nil {
			// Already resolved: a scan won the race, or a previous
			// (crashed) run got this far. Either way, no strike.
			return err
		}
		strikes, err = ls.IncrementStrikes(ctx, r.RiderID)
		return err
	})
	if err != nil {
		return err
	}

	if s.Events != nil {
		s.Events.Emit(events.Event{
			Kind:        events.KindStrike,
			AccountID:   r.RiderID,
			MerchantID:  r.MerchantID,
			RideID:      string(r.ID),
			StrikeCount: strikes,
			At:          s.clock().UTC(),
		})
		if strikes == ledger.MaxStrikes {
			s.Events.Emit(events.Event{
				Kind:        events.KindBanThreshold,
				AccountID:   r.RiderID,
				RideID:      string(r.ID),
				StrikeCount: strikes,
				At:          s.clock().UTC(),
			})
		}
	}
	return nil
}
