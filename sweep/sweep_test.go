/*
sweep_test.go - Tests for the expiry sweep and strike escalation

CORE PROPERTIES UNDER TEST:
- A stale pending ride is expired and its rider struck, atomically
- Fresh rides and already-resolved rides are untouched
- Re-running the sweep never strikes the same ride twice
- The third strike raises the ban-threshold event
*/
package sweep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma/settlement-engine/events"
	"github.com/uma/settlement-engine/handshake"
	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
	"github.com/uma/settlement-engine/store/memory"
	"github.com/uma/settlement-engine/sweep"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var baseTime = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Memory
	sweeper *sweep.Sweeper
	rides   *ride.Manager
	rider   ledger.AccountID
}

func newFixture(t *testing.T, dispatcher *events.Dispatcher) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	rider := ledger.AccountID("r1")
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: rider, Kind: ledger.KindRider,
		Balance: ledger.ZeroMoney(ledger.DefaultCurrency),
	}))

	s := sweep.New(store, store, handshake.NewKeyedMutex(), dispatcher)
	s.Now = func() time.Time { return baseTime.Add(30 * time.Hour) }

	rides := ride.NewManager(store, store)
	rides.Now = func() time.Time { return baseTime }

	return &fixture{store: store, sweeper: s, rides: rides, rider: rider}
}

func (f *fixture) bookAt(t *testing.T, at time.Time) *ride.Ride {
	t.Helper()
	f.rides.Now = func() time.Time { return at }
	r, err := f.rides.CreatePendingRide(context.Background(), f.rider, ride.Offer{
		ID:            "offer-1",
		MerchantID:    "m1",
		Reimbursement: ledger.NewMoneyFromInt(150, ledger.DefaultCurrency),
		VisitFee:      ledger.NewMoneyFromInt(20, ledger.DefaultCurrency),
		Active:        true,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) strikes(t *testing.T) int {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), f.rider)
	require.NoError(t, err)
	return acct.StrikeCount
}

// =============================================================================
// SWEEP TESTS
// =============================================================================

func TestRunOnce_ExpiresStaleAndStrikes(t *testing.T) {
	// GIVEN: one ride booked 30h ago, one booked 1h ago (24h window)
	// WHEN: the sweep runs
	// THEN: only the stale one expires; the rider gets one strike

	f := newFixture(t, nil)
	ctx := context.Background()
	stale := f.bookAt(t, baseTime)
	fresh := f.bookAt(t, baseTime.Add(29*time.Hour))

	stats, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Expired)

	got, _ := f.store.GetRide(ctx, stale.ID)
	assert.Equal(t, ride.StateExpired, got.State)
	got, _ = f.store.GetRide(ctx, fresh.ID)
	assert.Equal(t, ride.StatePending, got.State)

	assert.Equal(t, 1, f.strikes(t))
}

func TestRunOnce_FailureOnOneRideDoesNotAbortOthers(t *testing.T) {
	// GIVEN: two stale pending rides, one belonging to a rider with no
	//        account row, so its strike increment fails
	// WHEN: the sweep runs
	// THEN: the healthy ride expires, the broken one rolls back to
	//       pending for the next run, and the run itself reports no error

	f := newFixture(t, nil)
	ctx := context.Background()
	healthy := f.bookAt(t, baseTime)

	ghost := ride.Ride{
		ID:         "ride-ghost",
		RiderID:    "r-ghost",
		MerchantID: "m1",
		Code:       "UMA-RIDE-00000000-0000-0000-0000-000000000000",
		State:      ride.StatePending,
		CreatedAt:  baseTime,
	}
	require.NoError(t, f.store.CreateRide(ctx, ghost))

	stats, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err, "per-ride failures never abort the run")
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Failed)

	got, _ := f.store.GetRide(ctx, healthy.ID)
	assert.Equal(t, ride.StateExpired, got.State)
	got, _ = f.store.GetRide(ctx, ghost.ID)
	assert.Equal(t, ride.StatePending, got.State, "rolled back, retried next run")

	assert.Equal(t, 1, f.strikes(t), "only the healthy rider is struck")
}

func TestRunOnce_IdempotentRerun(t *testing.T) {
	// A second run finds nothing and the strike count stays put.
	f := newFixture(t, nil)
	ctx := context.Background()
	f.bookAt(t, baseTime)

	_, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.strikes(t))

	stats, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
	assert.Equal(t, 1, f.strikes(t), "no double strike")
}

func TestRunOnce_SkipsResolvedRides(t *testing.T) {
	// A ride completed between listing and locking must not be struck.
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.bookAt(t, baseTime)

	now := baseTime.Add(time.Hour)
	require.NoError(t, f.rides.MarkCompleted(ctx, r.ID, now))

	stats, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned, "completed rides are not stale")
	assert.Equal(t, 0, f.strikes(t))
}

func TestRunOnce_ThirdStrikeRaisesBanEvent(t *testing.T) {
	// GIVEN: a rider letting a third consecutive code lapse
	// WHEN: the sweep expires it
	// THEN: strike and ban-threshold events fire, and the rider can no
	//       longer book

	var (
		mu   sync.Mutex
		seen []events.Kind
	)
	dispatcher := events.NewDispatcher(16, events.ConsumerFunc(func(e events.Event) error {
		mu.Lock()
		seen = append(seen, e.Kind)
		mu.Unlock()
		return nil
	}))
	dispatcher.Start()

	f := newFixture(t, dispatcher)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.bookAt(t, baseTime.Add(time.Duration(i)*time.Minute))
	}

	stats, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Expired)
	assert.Equal(t, 3, f.strikes(t))

	dispatcher.Stop() // drain

	mu.Lock()
	defer mu.Unlock()
	strikeCount, banCount := 0, 0
	for _, k := range seen {
		switch k {
		case events.KindStrike:
			strikeCount++
		case events.KindBanThreshold:
			banCount++
		}
	}
	assert.Equal(t, 3, strikeCount)
	assert.Equal(t, 1, banCount, "ban threshold fires exactly once")

	// Booking is now refused.
	f.rides.Now = nil
	_, err = f.rides.CreatePendingRide(ctx, f.rider, ride.Offer{
		ID: "offer-2", MerchantID: "m1", Active: true,
		Reimbursement: ledger.NewMoneyFromInt(150, ledger.DefaultCurrency),
	})
	assert.ErrorIs(t, err, ride.ErrRiderBanned)
}
