/*
lifecycle.go - Ride state machine

PURPOSE:
  Owns the pending -> completed | expired lifecycle. Terminal states are
  final: a second resolution attempt gets ErrAlreadyResolved, never a
  silent double-apply. Rides are retained after resolution for audit.

LAZY EXPIRY:
  A pending ride older than the validity window is already dead even if
  the sweep hasn't caught it yet. LookupByCode reports such rides via
  ErrCodeExpired and the handshake transitions them on the spot.

SEE ALSO:
  - store.go: TransitionState, the guarded compare-and-set
  - handshake/processor.go, sweep/sweep.go: the two callers
*/
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uma/settlement-engine/ledger"
)

// DefaultValidityWindow is how long a code stays redeemable.
const DefaultValidityWindow = 24 * time.Hour

// AccountGetter is the slice of ledger.Store the manager needs for the
// booking-time ban guard. Nil disables the guard (transaction-scoped
// managers built inside a handshake never book).
type AccountGetter interface {
	GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error)
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Store    Store
	Issuer   *Issuer
	Accounts AccountGetter
	Window   time.Duration

	// Now is swappable for tests and for callers that pin "now" across
	// a transaction. Nil means time.Now.
	Now func() time.Time
}

func NewManager(store Store, accounts AccountGetter) *Manager {
	return &Manager{
		Store:    store,
		Issuer:   NewIssuer(),
		Accounts: accounts,
		Window:   DefaultValidityWindow,
	}
}

func (m *Manager) clock() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// CreatePendingRide books an offer: snapshots its amounts, issues a
// one-time code, and persists the ride in state pending. No money moves.
func (m *Manager) CreatePendingRide(ctx context.Context, riderID ledger.AccountID, offer Offer) (*Ride, error) {
	if !offer.Active {
		return nil, ErrOfferInactive
	}

	if m.Accounts != nil {
		rider, err := m.Accounts.GetAccount(ctx, riderID)
		if err != nil {
			return nil, err
		}
		if rider.StrikeCount >= ledger.MaxStrikes {
			return nil, ErrRiderBanned
		}
	}

	id := ID("ride-" + uuid.NewString())
	r := Ride{
		ID:         id,
		RiderID:    riderID,
		MerchantID: offer.MerchantID,
		Offer:      offer.Snapshot(),
		Code:       m.Issuer.Issue(id),
		State:      StatePending,
		CreatedAt:  m.clock().UTC(),
	}

	if err := m.Store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LookupByCode resolves a scanned code to its pending ride.
//
// Error surface, in order:
//   - ErrCodeNotFound:    no ride ever held this code
//   - ErrAlreadyResolved: ride exists but is completed/expired
//   - ErrCodeExpired:     ride is formally pending but past the window;
//     the ride is returned alongside so the caller can
//     transition it (lazy expiry)
func (m *Manager) LookupByCode(ctx context.Context, code string) (*Ride, error) {
	r, err := m.Store.GetRideByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if r.State.Terminal() {
		return nil, &AlreadyResolvedError{RideID: r.ID, State: r.State}
	}

	if r.Age(m.clock()) > m.Window {
		return r, ErrCodeExpired
	}
	return r, nil
}

// MarkCompleted transitions pending -> completed. Idempotent: a second
// call finds the ride out of pending and returns AlreadyResolvedError.
func (m *Manager) MarkCompleted(ctx context.Context, id ID, now time.Time) error {
	at := now.UTC()
	ok, err := m.Store.TransitionState(ctx, id, StatePending, StateCompleted, &at)
	if err != nil {
		return err
	}
	if !ok {
		return m.resolvedError(ctx, id)
	}
	return nil
}

// MarkExpired transitions pending -> expired. Same idempotency rule.
func (m *Manager) MarkExpired(ctx context.Context, id ID) error {
	ok, err := m.Store.TransitionState(ctx, id, StatePending, StateExpired, nil)
	if err != nil {
		return err
	}
	if !ok {
		return m.resolvedError(ctx, id)
	}
	return nil
}

// IsNewCustomer reports whether the rider has zero prior completed
// rides with this merchant. Gates the new-customer bonus.
func (m *Manager) IsNewCustomer(ctx context.Context, riderID, merchantID ledger.AccountID) (bool, error) {
	n, err := m.Store.CountCompleted(ctx, string(riderID), string(merchantID))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (m *Manager) resolvedError(ctx context.Context, id ID) error {
	r, err := m.Store.GetRide(ctx, id)
	if err != nil {
		return err
	}
	return &AlreadyResolvedError{RideID: id, State: r.State}
}
