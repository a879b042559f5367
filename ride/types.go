/*
Package ride owns a single redemption attempt: the offer it was booked
against, the one-time code, and the pending -> completed|expired state
machine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Offer: a merchant's standing deal (discount, reimbursement, fees)
  - OfferSnapshot: the amounts frozen into a ride at booking time, so a
    later offer edit cannot change what an in-flight redemption owes
  - Ride: one redemption attempt with its lifecycle state

SEE ALSO:
  - lifecycle.go: the state machine and its guards
  - code.go: one-time code issuance
*/
package ride

import (
	"time"

	"github.com/uma/settlement-engine/ledger"
)

type ID string
type OfferID string

// =============================================================================
// OFFER - A merchant's standing deal
// =============================================================================

type Offer struct {
	ID         OfferID
	MerchantID ledger.AccountID
	Title      string

	// DiscountPercent is applied by the merchant-side display layer,
	// never by this core. Integer 0-100.
	DiscountPercent int

	// Reimbursement is what the rider gets back; VisitFee is the flat
	// per-visit platform fee; Bonus applies only to new customers when
	// BonusEnabled is set.
	Reimbursement ledger.Money
	VisitFee      ledger.Money
	BonusEnabled  bool
	Bonus         ledger.Money

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfferSnapshot freezes the amounts owed at booking time.
type OfferSnapshot struct {
	OfferID         OfferID
	DiscountPercent int
	Reimbursement   ledger.Money
	VisitFee        ledger.Money
	BonusEnabled    bool
	Bonus           ledger.Money
}

func (o Offer) Snapshot() OfferSnapshot {
	return OfferSnapshot{
		OfferID:         o.ID,
		DiscountPercent: o.DiscountPercent,
		Reimbursement:   o.Reimbursement,
		VisitFee:        o.VisitFee,
		BonusEnabled:    o.BonusEnabled,
		Bonus:           o.Bonus,
	}
}

// =============================================================================
// RIDE - One redemption attempt
// =============================================================================

type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateExpired   State = "expired"
)

// Terminal reports whether a state admits no further transitions.
func (s State) Terminal() bool { return s == StateCompleted || s == StateExpired }

type Ride struct {
	ID         ID
	RiderID    ledger.AccountID
	MerchantID ledger.AccountID
	Offer      OfferSnapshot

	// Code is the one-time redemption code. Unique across all rides;
	// never reused after the ride leaves pending.
	Code string

	State       State
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Age returns how long the ride has been open.
func (r *Ride) Age(now time.Time) time.Duration { return now.Sub(r.CreatedAt) }
