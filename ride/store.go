package ride

import (
	"context"
	"time"
)

// Store handles persistence of offers and rides.
//
// Terminal transitions go through TransitionState, a guarded
// compare-and-set: the update applies only if the ride is still in the
// expected source state. That single primitive is what makes completion
// and expiry idempotent under concurrency.
type Store interface {
	SaveOffer(ctx context.Context, offer Offer) error
	GetOffer(ctx context.Context, id OfferID) (*Offer, error)
	ListOffers(ctx context.Context, merchantID string) ([]Offer, error)
	SetOfferActive(ctx context.Context, id OfferID, active bool) error

	// CreateRide persists a new pending ride. Fails if the code is
	// already taken (unique index).
	CreateRide(ctx context.Context, r Ride) error

	GetRide(ctx context.Context, id ID) (*Ride, error)

	// GetRideByCode returns the ride holding this code in ANY state, or
	// ErrRideNotFound. Callers distinguish pending from resolved.
	GetRideByCode(ctx context.Context, code string) (*Ride, error)

	// TransitionState moves a ride from one state to another. Returns
	// (false, nil) when the ride was not in the expected source state,
	// which callers translate into ErrAlreadyResolved.
	TransitionState(ctx context.Context, id ID, from, to State, completedAt *time.Time) (bool, error)

	// CountCompleted returns how many completed rides link this rider
	// to this merchant. Zero means new customer.
	CountCompleted(ctx context.Context, riderID, merchantID string) (int, error)

	// ListStalePending returns pending rides created before the cutoff,
	// oldest first. The expiry sweep's work queue.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]Ride, error)
}
