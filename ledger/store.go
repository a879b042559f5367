/*
store.go - Persistence interface for accounts and ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. The entry
  log is APPEND-ONLY: there is no update or delete on entries, ever.
  Corrections are made by writing offsetting adjustments.

BALANCE MUTATION:
  UpdateBalance exists for the Ledger alone. No other component calls it;
  everything else goes through Transfer/Adjust so that every balance
  change leaves an entry behind.

IMPLEMENTATIONS:
  - store/sqlite: production store, also implements ride.Store and WithTx
  - store/memory: in-memory store for tests and dev

SEE ALSO:
  - ledger.go: the engine that drives this interface
*/
package ledger

import "context"

// Store handles persistence of accounts and the append-only entry log.
type Store interface {
	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// SaveAccount creates or updates an account's profile fields.
	// Balance changes still go through UpdateBalance.
	SaveAccount(ctx context.Context, acct Account) error

	// UpdateBalance sets the stored balance. Called only by the Ledger,
	// inside the same transaction that appends the matching entries.
	UpdateBalance(ctx context.Context, id AccountID, balance Money) error

	// IncrementStrikes bumps a rider's strike counter and returns the
	// new count. Called only by the expiry sweep.
	IncrementStrikes(ctx context.Context, id AccountID) (int, error)

	// AppendEntries persists entries. Append-only: no update, no delete.
	AppendEntries(ctx context.Context, entries []LedgerEntry) error

	// Entries returns all entries for an account, oldest first.
	Entries(ctx context.Context, accountID AccountID) ([]LedgerEntry, error)

	// EntriesByRide returns all entries linked to a ride, oldest first.
	EntriesByRide(ctx context.Context, rideID string) ([]LedgerEntry, error)
}
