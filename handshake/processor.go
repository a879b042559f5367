/*
processor.go - The settlement algorithm

PURPOSE:
  Executes the handshake: one scanned code in, one atomic settlement (or
  one typed failure) out. This is the only component that moves money
  for a ride.

SEQUENCE (per scan):
  1. Syntactic code check, pre-lookup to learn the ride id
  2. Acquire the per-ride lock (bounded wait -> ErrBusy)
  3. Inside ONE store transaction:
       re-resolve the code, lazy-expire if past the window,
       determine new-customer status, compute the total charge,
       verify merchant funds, run the transfers, mark completed
  4. After commit: emit the completion event (fire-and-forget)

ATOMICITY:
  The unit of atomicity is the whole handshake. Reimbursement, fee,
  bonus and the state transition commit together or not at all. The
  only mutation that commits on a failure path is the lazy expiry
  transition, which by definition moves no money.

SEE ALSO:
  - locks.go: the per-ride guard, shared with the expiry sweep
  - ledger/ledger.go: the transfer primitive called three times here
*/
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/uma/settlement-engine/events"
	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// DefaultLockWait bounds how long a scan waits for the per-ride lock.
const DefaultLockWait = 3 * time.Second

// TxRunner runs a function inside one durable store transaction,
// handing it transaction-scoped views of both stores.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ledger.Store, ride.Store) error) error
}

// Result is what a successful scan returns to the merchant: the
// discount to apply at the counter and the reimbursement the rider
// just received.
type Result struct {
	RideID          ride.ID
	RiderID         ledger.AccountID
	MerchantID      ledger.AccountID
	DiscountPercent int
	Reimbursement   ledger.Money
	NewCustomer     bool
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	Tx       TxRunner
	Rides    ride.Store
	Locks    *KeyedMutex
	Events   *events.Dispatcher
	Window   time.Duration
	LockWait time.Duration

	// Now is swappable for tests. Nil means time.Now.
	Now func() time.Time

	issuer *ride.Issuer
}

func NewProcessor(tx TxRunner, rides ride.Store, locks *KeyedMutex, dispatcher *events.Dispatcher) *Processor {
	return &Processor{
		Tx:       tx,
		Rides:    rides,
		Locks:    locks,
		Events:   dispatcher,
		Window:   ride.DefaultValidityWindow,
		LockWait: DefaultLockWait,
		issuer:   ride.NewIssuer(),
	}
}

func (p *Processor) clock() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Execute settles one scanned code. Failure returns are typed:
// ErrInvalidCode, ride.ErrCodeExpired, ErrInsufficientMerchantFunds,
// ErrBusy, or a transport/store error.
func (p *Processor) Execute(ctx context.Context, code string) (*Result, error) {
	if !p.issuer.Validate(code) {
		return nil, ErrInvalidCode
	}

	// Pre-lookup outside the lock to learn the ride id. State read here
	// is advisory; the authoritative read happens under the lock.
	pre, err := p.Rides.GetRideByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ride.ErrRideNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	release, err := p.Locks.Acquire(ctx, string(pre.ID), p.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		res     Result
		expired bool
	)

	err = p.Tx.WithTx(ctx, func(ls ledger.Store, rs ride.Store) error {
		mgr := &ride.Manager{Store: rs, Issuer: p.issuer, Window: p.Window, Now: p.Now}

		r, lookupErr := mgr.LookupByCode(ctx, code)
		switch {
		case errors.Is(lookupErr, ride.ErrCodeNotFound),
			errors.Is(lookupErr, ride.ErrAlreadyResolved):
			return ErrInvalidCode
		case errors.Is(lookupErr, ride.ErrCodeExpired):
			// Lazy expiry: the transition commits, no funds move.
			if err := mgr.MarkExpired(ctx, r.ID); err != nil {
				return err
			}
			expired = true
			return nil
		case lookupErr != nil:
			return lookupErr
		}

		newCustomer, err := mgr.IsNewCustomer(ctx, r.RiderID, r.MerchantID)
		if err != nil {
			return err
		}

		bonusApplies := r.Offer.BonusEnabled && newCustomer && r.Offer.Bonus.IsPositive()
		total := r.Offer.Reimbursement.Add(r.Offer.VisitFee)
		if bonusApplies {
			total = total.Add(r.Offer.Bonus)
		}

		merchant, err := ls.GetAccount(ctx, r.MerchantID)
		if err != nil {
			return err
		}
		if merchant.Balance.LessThan(total) {
			return fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientMerchantFunds, total, merchant.Balance)
		}

		led := ledger.New(ls)
		led.Now = p.Now

		if r.Offer.Reimbursement.IsPositive() {
			if _, err := led.Transfer(ctx, r.MerchantID, r.RiderID, r.Offer.Reimbursement,
				string(r.ID), ledger.EntryReimbursementDebit, "Ride reimbursement"); err != nil {
				return err
			}
		}
		if r.Offer.VisitFee.IsPositive() {
			if _, err := led.Transfer(ctx, r.MerchantID, ledger.PlatformAccountID, r.Offer.VisitFee,
				string(r.ID), ledger.EntryFeeDebit, "Per-visit fee"); err != nil {
				return err
			}
		}
		if bonusApplies {
			if _, err := led.Transfer(ctx, r.MerchantID, ledger.PlatformAccountID, r.Offer.Bonus,
				string(r.ID), ledger.EntryBonusDebit, "New customer bonus"); err != nil {
				return err
			}
		}

		if err := mgr.MarkCompleted(ctx, r.ID, p.clock()); err != nil {
			return err
		}

		res = Result{
			RideID:          r.ID,
			RiderID:         r.RiderID,
			MerchantID:      r.MerchantID,
			DiscountPercent: r.Offer.DiscountPercent,
			Reimbursement:   r.Offer.Reimbursement,
			NewCustomer:     newCustomer,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ride.ErrCodeExpired
	}

	log.WithFields(log.Fields{
		"ride":     res.RideID,
		"rider":    res.RiderID,
		"merchant": res.MerchantID,
		"amount":   res.Reimbursement.String(),
	}).Info("handshake settled")

	// Fire-and-forget: a consumer failure cannot reach the settlement.
	if p.Events != nil {
		p.Events.Emit(events.Event{
			Kind:       events.KindRideCompleted,
			AccountID:  res.RiderID,
			MerchantID: res.MerchantID,
			RideID:     string(res.RideID),
			Amount:     res.Reimbursement,
			At:         p.clock().UTC(),
		})
	}

	return &res, nil
}
