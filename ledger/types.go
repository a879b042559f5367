/*
Package ledger provides the wallet ledger: accounts, the append-only
entry log, and the Transfer primitive that is the only way money moves.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a wallet (rider, merchant, or the platform revenue sink)
  - LedgerEntry: an immutable record of one signed balance movement
  - EntryPair: the debit+credit halves of one transfer

DESIGN PRINCIPLES:
  1. Immutability: entries are never updated or deleted
  2. Conservation: a transfer writes a debit and a credit whose signed
     amounts sum to zero
  3. Auditability: every entry carries balance-before and balance-after,
     forming a verifiable per-account chain

SEE ALSO:
  - ledger.go: Transfer and chain verification
  - store.go: persistence interface
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// PlatformAccountID is the revenue sink that receives per-visit fees and
// new-customer bonuses. Seeded at migration time.
const PlatformAccountID AccountID = "acct-platform"

// =============================================================================
// ACCOUNT - A wallet
// =============================================================================

type AccountKind string

const (
	KindRider    AccountKind = "rider"
	KindMerchant AccountKind = "merchant"
	KindPlatform AccountKind = "platform"
)

// MaxStrikes is the ban threshold: a rider reaching this many strikes
// triggers a ban event and can no longer book.
const MaxStrikes = 3

type Account struct {
	ID      AccountID
	Kind    AccountKind
	Name    string
	Balance Money

	// StrikeCount is meaningful for riders only. Incremented by the
	// expiry sweep, never by a transfer.
	StrikeCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one signed balance movement
// =============================================================================

type EntryType string

const (
	EntryReimbursementDebit EntryType = "reimbursement_debit" // merchant pays the ride back
	EntryFeeDebit           EntryType = "fee_debit"           // per-visit fee to the platform
	EntryBonusDebit         EntryType = "bonus_debit"         // new-customer bonus to the platform
	EntryRiderCredit        EntryType = "rider_credit"        // rider side of the reimbursement
	EntryWalletAdjustment   EntryType = "wallet_adjustment"   // top-up or platform-side credit
)

type LedgerEntry struct {
	ID        EntryID
	Type      EntryType
	AccountID AccountID

	// Amount is signed: negative for debits, positive for credits.
	Amount        Money
	BalanceBefore Money
	BalanceAfter  Money

	// RideID links the entry to the settlement that produced it.
	// Empty for standalone adjustments (top-ups).
	RideID string

	Description string
	CreatedAt   time.Time
}

// EntryPair is the two halves of one transfer.
type EntryPair struct {
	Debit  LedgerEntry
	Credit LedgerEntry
}

// creditTypeFor maps a transfer's debit-side type to its credit-side type.
// Reimbursements land in the rider's wallet; fees and bonuses are platform
// revenue and recorded as wallet adjustments on the sink account.
func creditTypeFor(t EntryType) EntryType {
	if t == EntryReimbursementDebit {
		return EntryRiderCredit
	}
	return EntryWalletAdjustment
}
