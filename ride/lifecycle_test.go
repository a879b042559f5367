/*
lifecycle_test.go - Tests for booking and the ride state machine

CORE PROPERTIES UNDER TEST:
- Booking snapshots the offer: later edits cannot change what a
  pending ride owes
- pending is the only non-terminal state; completed and expired admit
  no further transitions
- LookupByCode distinguishes never-existed, already-resolved, and
  expired-but-still-pending codes
*/
package ride_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
	"github.com/uma/settlement-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func inr(v int64) ledger.Money {
	return ledger.NewMoneyFromInt(v, ledger.DefaultCurrency)
}

func newTestManager(t *testing.T) (*ride.Manager, *memory.Memory) {
	t.Helper()
	store := memory.New()
	return ride.NewManager(store, store), store
}

func seedRider(t *testing.T, store *memory.Memory, id string, strikes int) ledger.AccountID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID:      ledger.AccountID(id),
		Kind:    ledger.KindRider,
		Balance: ledger.ZeroMoney(ledger.DefaultCurrency),
	}))
	for i := 0; i < strikes; i++ {
		_, err := store.IncrementStrikes(ctx, ledger.AccountID(id))
		require.NoError(t, err)
	}
	return ledger.AccountID(id)
}

func testOffer(merchantID string) ride.Offer {
	return ride.Offer{
		ID:              "offer-1",
		MerchantID:      ledger.AccountID(merchantID),
		Title:           "20% off rides",
		DiscountPercent: 20,
		Reimbursement:   inr(150),
		VisitFee:        inr(20),
		BonusEnabled:    true,
		Bonus:           inr(50),
		Active:          true,
	}
}

// =============================================================================
// BOOKING TESTS
// =============================================================================

func TestCreatePendingRide_IssuesCodeAndSnapshot(t *testing.T) {
	// GIVEN: an active offer
	// WHEN: a rider books it
	// THEN: pending ride with a valid code and frozen amounts

	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)
	offer := testOffer("m1")
	require.NoError(t, store.SaveOffer(ctx, offer))

	r, err := m.CreatePendingRide(ctx, rider, offer)
	require.NoError(t, err)

	assert.Equal(t, ride.StatePending, r.State)
	assert.True(t, m.Issuer.Validate(r.Code), "code %q must validate", r.Code)
	assert.Equal(t, offer.ID, r.Offer.OfferID)
	assert.True(t, r.Offer.Reimbursement.Equal(inr(150)))

	// Snapshot immunity: edit the offer after booking
	offer.Reimbursement = inr(999)
	require.NoError(t, store.SaveOffer(ctx, offer))

	stored, err := store.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.Offer.Reimbursement.Equal(inr(150)),
		"pending ride must keep booking-time amounts")
}

func TestCreatePendingRide_RejectsInactiveOffer(t *testing.T) {
	m, store := newTestManager(t)
	rider := seedRider(t, store, "r1", 0)
	offer := testOffer("m1")
	offer.Active = false

	_, err := m.CreatePendingRide(context.Background(), rider, offer)
	assert.ErrorIs(t, err, ride.ErrOfferInactive)
}

func TestCreatePendingRide_RejectsBannedRider(t *testing.T) {
	// GIVEN: a rider at the strike threshold
	// WHEN: booking
	// THEN: ErrRiderBanned

	m, store := newTestManager(t)
	rider := seedRider(t, store, "r1", ledger.MaxStrikes)

	_, err := m.CreatePendingRide(context.Background(), rider, testOffer("m1"))
	assert.ErrorIs(t, err, ride.ErrRiderBanned)
}

func TestCreatePendingRide_TwoStrikesStillAllowed(t *testing.T) {
	m, store := newTestManager(t)
	rider := seedRider(t, store, "r1", ledger.MaxStrikes-1)

	_, err := m.CreatePendingRide(context.Background(), rider, testOffer("m1"))
	assert.NoError(t, err)
}

// =============================================================================
// LOOKUP TESTS
// =============================================================================

func TestLookupByCode_UnknownCode(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.LookupByCode(context.Background(), "UMA-RIDE-00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ride.ErrCodeNotFound)
}

func TestLookupByCode_PendingWithinWindow(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)
	booked, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)

	r, err := m.LookupByCode(ctx, booked.Code)
	require.NoError(t, err)
	assert.Equal(t, booked.ID, r.ID)
}

func TestLookupByCode_PastWindowReturnsRideAndExpired(t *testing.T) {
	// GIVEN: a ride booked at T
	// WHEN: looking it up at T+25h with a 24h window
	// THEN: ErrCodeExpired with the ride returned for lazy expiry

	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)

	booked := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return booked }
	r, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)

	m.Now = func() time.Time { return booked.Add(25 * time.Hour) }
	got, err := m.LookupByCode(ctx, r.Code)
	assert.ErrorIs(t, err, ride.ErrCodeExpired)
	require.NotNil(t, got, "expired lookup must still return the ride")
	assert.Equal(t, r.ID, got.ID)
}

func TestLookupByCode_ResolvedRide(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)
	r, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(ctx, r.ID, time.Now()))

	_, err = m.LookupByCode(ctx, r.Code)
	assert.ErrorIs(t, err, ride.ErrAlreadyResolved)

	var are *ride.AlreadyResolvedError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, ride.StateCompleted, are.State)
}

// =============================================================================
// TRANSITION TESTS
// =============================================================================

func TestMarkCompleted_SecondCallReportsResolved(t *testing.T) {
	// GIVEN: a completed ride
	// WHEN: completing it again
	// THEN: AlreadyResolvedError, state stays completed

	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)
	r, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, m.MarkCompleted(ctx, r.ID, now))

	err = m.MarkCompleted(ctx, r.ID, now.Add(time.Minute))
	assert.ErrorIs(t, err, ride.ErrAlreadyResolved)

	stored, _ := store.GetRide(ctx, r.ID)
	assert.Equal(t, ride.StateCompleted, stored.State)
	require.NotNil(t, stored.CompletedAt)
}

func TestMarkExpired_CannotExpireCompleted(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)
	r, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(ctx, r.ID, time.Now()))

	err = m.MarkExpired(ctx, r.ID)
	assert.ErrorIs(t, err, ride.ErrAlreadyResolved)

	stored, _ := store.GetRide(ctx, r.ID)
	assert.Equal(t, ride.StateCompleted, stored.State, "expiry must not clobber completion")
}

func TestIsNewCustomer(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	rider := seedRider(t, store, "r1", 0)

	isNew, err := m.IsNewCustomer(ctx, rider, "m1")
	require.NoError(t, err)
	assert.True(t, isNew, "no history means new customer")

	r, err := m.CreatePendingRide(ctx, rider, testOffer("m1"))
	require.NoError(t, err)
	isNew, err = m.IsNewCustomer(ctx, rider, "m1")
	require.NoError(t, err)
	assert.True(t, isNew, "a pending ride does not count as history")

	require.NoError(t, m.MarkCompleted(ctx, r.ID, time.Now()))
	isNew, err = m.IsNewCustomer(ctx, rider, "m1")
	require.NoError(t, err)
	assert.False(t, isNew, "a completed ride ends new-customer status")
}
