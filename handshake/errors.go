package handshake

import "errors"

// =============================================================================
// SCAN-FACING ERRORS
// =============================================================================
// One of these (or ride.ErrCodeExpired) comes back from every failed
// Execute. The API layer maps them to status codes and human-readable
// reasons; money never moves on any of these paths.

var (
	// ErrInvalidCode covers "never existed" and "already completed or
	// expired". The two cases are deliberately indistinguishable to the
	// scanning party.
	ErrInvalidCode = errors.New("invalid code or code already used")

	// ErrInsufficientMerchantFunds leaves the ride pending; the
	// merchant can top up and the rider can be re-scanned.
	ErrInsufficientMerchantFunds = errors.New("insufficient merchant wallet balance")

	// ErrBusy means the per-ride lock could not be acquired within the
	// bounded wait. Retryable.
	ErrBusy = errors.New("ride is being processed, retry")
)
