package ride

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCodeNotFound means the code never existed.
	ErrCodeNotFound = errors.New("code not found")

	// ErrAlreadyResolved means the ride already reached a terminal state.
	// Distinct from ErrCodeNotFound for correct scan-facing messaging.
	ErrAlreadyResolved = errors.New("ride already resolved")

	// ErrCodeExpired means the ride outlived the validity window.
	ErrCodeExpired = errors.New("code expired")

	// ErrOfferNotFound is returned when a referenced offer doesn't exist.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOfferInactive is returned when booking against a paused offer.
	ErrOfferInactive = errors.New("offer inactive")

	// ErrRideNotFound is returned when a referenced ride doesn't exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrRiderBanned is returned when a rider at the strike threshold
	// tries to book.
	ErrRiderBanned = errors.New("rider banned")
)

// AlreadyResolvedError carries the terminal state the ride is stuck in.
type AlreadyResolvedError struct {
	RideID ID
	State  State
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("ride %s already %s", e.RideID, e.State)
}

func (e *AlreadyResolvedError) Unwrap() error { return ErrAlreadyResolved }
