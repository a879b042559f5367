/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger-level errors in one place. Higher layers (handshake, sweep,
  api) wrap or classify these; they never invent their own balance errors.

ERROR CATEGORIES:
  1. Funds errors    - insufficient balance, invalid amounts
  2. Lookup errors   - missing accounts
  3. Store errors    - transient persistence failures
  4. Invariant errors - chain corruption; these abort the unit of work

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) { ... }

SEE ALSO:
  - ledger.go: where these are returned
  - handshake/processor.go: maps them onto scan-facing failures
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientFunds is returned when a transfer would take the
	// source account below zero. The caller may retry after a top-up.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCurrencyMismatch is returned when a transfer mixes currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrStoreUnavailable marks transient persistence failures. The sweep
	// retries these on its next run; interactive callers surface them.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrChainBroken is returned when an account's entry chain fails
	// verification (balance-after of one entry does not match the
	// balance-before of the next). This is a fatal invariant violation.
	ErrChainBroken = errors.New("ledger chain broken")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the source account is.
type InsufficientFundsError struct {
	AccountID AccountID
	Available Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ChainError reports where an account's entry chain diverges.
type ChainError struct {
	AccountID AccountID
	EntryID   EntryID
	Expected  Money
	Got       Money
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken at entry %s for %s: expected before=%s, got %s",
		e.EntryID, e.AccountID, e.Expected, e.Got)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCurrencyMismatch)
}
