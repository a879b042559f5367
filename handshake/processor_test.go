/*
processor_test.go - Settlement scenarios

CORE PROPERTIES UNDER TEST:
- A successful scan moves reimbursement, fee, and (for new customers)
  bonus in one unit, and the ride lands in completed
- Insufficient merchant funds fails the whole unit: ride stays pending,
  no entries written, retryable after a top-up
- A code scanned past the window expires lazily: the transition commits,
  no money moves
- Concurrent scans of one code settle exactly once
*/
package handshake_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma/settlement-engine/handshake"
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

type fixture struct {
	store     *memory.Memory
	processor *handshake.Processor
	rides     *ride.Manager
	merchant  ledger.AccountID
	rider     ledger.AccountID
	offer     ride.Offer
}

// newFixture seeds a merchant with the given balance, a rider, and an
// active offer: 20% discount, 150 reimbursement, 20 fee, 50 bonus.
func newFixture(t *testing.T, merchantBalance int64) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	merchant := ledger.AccountID("m1")
	rider := ledger.AccountID("r1")
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: merchant, Kind: ledger.KindMerchant,
		Balance: ledger.ZeroMoney(ledger.DefaultCurrency),
	}))
	require.NoError(t, store.SaveAccount(ctx, ledger.Account{
		ID: rider, Kind: ledger.KindRider,
		Balance: ledger.ZeroMoney(ledger.DefaultCurrency),
	}))
	if merchantBalance != 0 {
		require.NoError(t, store.UpdateBalance(ctx, merchant, inr(merchantBalance)))
	}

	offer := ride.Offer{
		ID:              "offer-1",
		MerchantID:      merchant,
		Title:           "20% off",
		DiscountPercent: 20,
		Reimbursement:   inr(150),
		VisitFee:        inr(20),
		BonusEnabled:    true,
		Bonus:           inr(50),
		Active:          true,
	}
	require.NoError(t, store.SaveOffer(ctx, offer))

	return &fixture{
		store:     store,
		processor: handshake.NewProcessor(store, store, handshake.NewKeyedMutex(), nil),
		rides:     ride.NewManager(store, store),
		merchant:  merchant,
		rider:     rider,
		offer:     offer,
	}
}

func (f *fixture) book(t *testing.T) *ride.Ride {
	t.Helper()
	r, err := f.rides.CreatePendingRide(context.Background(), f.rider, f.offer)
	require.NoError(t, err)
	return r
}

func (f *fixture) balance(t *testing.T, id ledger.AccountID) ledger.Money {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

// =============================================================================
// SETTLEMENT TESTS
// =============================================================================

func TestExecute_NewCustomerSettlement(t *testing.T) {
	// GIVEN: merchant wallet 1000, new rider, bonus-enabled offer
	// WHEN: the code is scanned
	// THEN: merchant 780 (150+20+50), rider 150, platform 70

	f := newFixture(t, 1000)
	ctx := context.Background()
	booked := f.book(t)

	res, err := f.processor.Execute(ctx, booked.Code)
	require.NoError(t, err)
	assert.Equal(t, 20, res.DiscountPercent)
	assert.True(t, res.NewCustomer)
	assert.True(t, res.Reimbursement.Equal(inr(150)))

	assert.True(t, f.balance(t, f.merchant).Equal(inr(780)),
		"merchant: got %s", f.balance(t, f.merchant))
	assert.True(t, f.balance(t, f.rider).Equal(inr(150)))
	assert.True(t, f.balance(t, ledger.PlatformAccountID).Equal(inr(70)))

	stored, err := f.store.GetRide(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StateCompleted, stored.State)
	require.NotNil(t, stored.CompletedAt)

	// Conservation: the ride's entries sum to zero
	entries, err := f.store.EntriesByRide(ctx, string(booked.ID))
	require.NoError(t, err)
	require.Len(t, entries, 6, "reimbursement, fee and bonus pairs")
	assert.True(t, ledger.SumEntries(entries).IsZero())
}

func TestExecute_BonusDisabledOffer(t *testing.T) {
	// GIVEN: merchant wallet 1000, offer with the bonus switched off
	// WHEN: a new customer's code is scanned
	// THEN: only reimbursement+fee move (merchant 830, rider 150)

	f := newFixture(t, 1000)
	ctx := context.Background()

	f.offer.BonusEnabled = false
	require.NoError(t, f.store.SaveOffer(ctx, f.offer))
	booked := f.book(t)

	res, err := f.processor.Execute(ctx, booked.Code)
	require.NoError(t, err)
	assert.True(t, res.NewCustomer)

	assert.True(t, f.balance(t, f.merchant).Equal(inr(830)),
		"merchant: got %s", f.balance(t, f.merchant))
	assert.True(t, f.balance(t, f.rider).Equal(inr(150)))

	entries, err := f.store.EntriesByRide(ctx, string(booked.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no bonus pair when the offer disables it")
}

func TestExecute_ZeroReimbursementOffer(t *testing.T) {
	// GIVEN: a discount-only offer (reimbursement 0, fee 20, no bonus)
	// WHEN: the code is scanned
	// THEN: the scan settles; only the fee moves and the rider's wallet
	//       stays untouched

	f := newFixture(t, 1000)
	ctx := context.Background()

	f.offer.Reimbursement = inr(0)
	f.offer.BonusEnabled = false
	require.NoError(t, f.store.SaveOffer(ctx, f.offer))
	booked := f.book(t)

	res, err := f.processor.Execute(ctx, booked.Code)
	require.NoError(t, err)
	assert.Equal(t, 20, res.DiscountPercent)
	assert.True(t, res.Reimbursement.IsZero())

	assert.True(t, f.balance(t, f.merchant).Equal(inr(980)))
	assert.True(t, f.balance(t, f.rider).IsZero())

	entries, err := f.store.EntriesByRide(ctx, string(booked.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the fee pair")
}

func TestExecute_ReturningCustomerSkipsBonus(t *testing.T) {
	// GIVEN: rider already has a completed ride with this merchant
	// WHEN: a second code is scanned
	// THEN: only reimbursement+fee move (merchant pays 170, not 220)

	f := newFixture(t, 1000)
	ctx := context.Background()

	first := f.book(t)
	_, err := f.processor.Execute(ctx, first.Code)
	require.NoError(t, err)
	afterFirst := f.balance(t, f.merchant)

	second := f.book(t)
	res, err := f.processor.Execute(ctx, second.Code)
	require.NoError(t, err)
	assert.False(t, res.NewCustomer)

	paid := afterFirst.Sub(f.balance(t, f.merchant))
	assert.True(t, paid.Equal(inr(170)), "second ride: got %s", paid)

	entries, err := f.store.EntriesByRide(ctx, string(second.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no bonus pair for a returning customer")
}

func TestExecute_InsufficientFundsLeavesRidePending(t *testing.T) {
	// GIVEN: merchant wallet 100, total charge 220
	// WHEN: the code is scanned
	// THEN: typed failure, ride pending, wallets untouched; a top-up
	//       makes the same code settle

	f := newFixture(t, 100)
	ctx := context.Background()
	booked := f.book(t)

	_, err := f.processor.Execute(ctx, booked.Code)
	assert.ErrorIs(t, err, handshake.ErrInsufficientMerchantFunds)

	stored, _ := f.store.GetRide(ctx, booked.ID)
	assert.Equal(t, ride.StatePending, stored.State, "ride must stay scannable")
	assert.True(t, f.balance(t, f.merchant).Equal(inr(100)))
	assert.True(t, f.balance(t, f.rider).IsZero())

	entries, err := f.store.EntriesByRide(ctx, string(booked.ID))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed settlement must write nothing")

	// Retry after top-up
	l := ledger.New(f.store)
	_, err = l.Adjust(ctx, f.merchant, inr(500), "Wallet top-up")
	require.NoError(t, err)

	_, err = f.processor.Execute(ctx, booked.Code)
	assert.NoError(t, err, "same code must settle after the top-up")
}

func TestExecute_InvalidCodes(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.processor.Execute(ctx, "not-a-code")
	assert.ErrorIs(t, err, handshake.ErrInvalidCode, "malformed code")

	_, err = f.processor.Execute(ctx, "UMA-RIDE-00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, handshake.ErrInvalidCode, "well-formed but unknown code")
}

func TestExecute_SecondScanOfSettledCode(t *testing.T) {
	// Exactly-once: a code that settled cannot settle again.
	f := newFixture(t, 1000)
	ctx := context.Background()
	booked := f.book(t)

	_, err := f.processor.Execute(ctx, booked.Code)
	require.NoError(t, err)
	afterFirst := f.balance(t, f.merchant)

	_, err = f.processor.Execute(ctx, booked.Code)
	assert.ErrorIs(t, err, handshake.ErrInvalidCode)
	assert.True(t, f.balance(t, f.merchant).Equal(afterFirst), "no double charge")
}

func TestExecute_LazyExpiry(t *testing.T) {
	// GIVEN: a code booked at T, scanned at T+25h (24h window)
	// WHEN: Execute runs
	// THEN: ErrCodeExpired, the ride lands in expired, no money moves

	f := newFixture(t, 1000)
	ctx := context.Background()

	booked := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	f.rides.Now = func() time.Time { return booked }
	r := f.book(t)

	f.processor.Now = func() time.Time { return booked.Add(25 * time.Hour) }
	_, err := f.processor.Execute(ctx, r.Code)
	assert.ErrorIs(t, err, ride.ErrCodeExpired)

	stored, _ := f.store.GetRide(ctx, r.ID)
	assert.Equal(t, ride.StateExpired, stored.State, "lazy expiry must commit")
	assert.True(t, f.balance(t, f.merchant).Equal(inr(1000)))

	// A later scan of the same code reads as invalid, not expired again.
	_, err = f.processor.Execute(ctx, r.Code)
	assert.ErrorIs(t, err, handshake.ErrInvalidCode)
}

func TestExecute_ConcurrentScansSettleOnce(t *testing.T) {
	// GIVEN: one code, many simultaneous scans
	// WHEN: they race
	// THEN: exactly one succeeds and the merchant pays exactly once

	f := newFixture(t, 1000)
	ctx := context.Background()
	booked := f.book(t)

	const scans = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.processor.Execute(ctx, booked.Code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one scan settles")
	assert.True(t, f.balance(t, f.merchant).Equal(inr(780)),
		"merchant charged once: got %s", f.balance(t, f.merchant))
	assert.True(t, f.balance(t, f.rider).Equal(inr(150)))
}
