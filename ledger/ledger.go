/*
ledger.go - The transfer primitive

PURPOSE:
  The Ledger is the only component allowed to move money. A transfer
  atomically checks funds, moves the balance, and appends a debit+credit
  pair whose before/after balances chain onto each account's history.

CRITICAL INVARIANTS:
  1. Balances never go negative: the funds check and the mutation happen
     inside one store transaction.
  2. Every transfer writes exactly two entries that sum to zero.
  3. balance-after of an account's entry equals balance-before of that
     account's next entry. VerifyChain checks this.

ATOMICITY SCOPE:
  The Ledger does not open transactions itself. Callers that need a
  multi-transfer unit (the handshake: reimbursement + fee + bonus + ride
  transition) run it inside the store's WithTx and build a Ledger over
  the transaction-scoped Store. All entries then commit or roll back as
  one durable unit.

SEE ALSO:
  - store.go: the persistence interface driven here
  - handshake/processor.go: the multi-transfer caller
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store

	// Now is swappable for tests. Nil means time.Now.
	Now func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{Store: store}
}

func (l *Ledger) clock() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Transfer moves amount from one account to another and records the
// debit+credit entry pair. entryType is the debit-side type; the credit
// side is derived (reimbursements credit the rider, everything else is a
// wallet adjustment on the receiving account).
//
// Returns ErrInvalidAmount for amount <= 0 and a wrapped
// InsufficientFundsError when the source balance is too low.
func (l *Ledger) Transfer(ctx context.Context, from, to AccountID, amount Money, rideID string, entryType EntryType, description string) (EntryPair, error) {
	if !amount.IsPositive() {
		return EntryPair{}, ErrInvalidAmount
	}

	src, err := l.Store.GetAccount(ctx, from)
	if err != nil {
		return EntryPair{}, err
	}
	dst, err := l.Store.GetAccount(ctx, to)
	if err != nil {
		return EntryPair{}, err
	}

	if src.Balance.Currency != amount.Currency || dst.Balance.Currency != amount.Currency {
		return EntryPair{}, ErrCurrencyMismatch
	}

	if src.Balance.LessThan(amount) {
		return EntryPair{}, &InsufficientFundsError{
			AccountID: from,
			Available: src.Balance,
			Requested: amount,
		}
	}

	now := l.clock().UTC()
	srcAfter := src.Balance.Sub(amount)
	dstAfter := dst.Balance.Add(amount)

	pair := EntryPair{
		Debit: LedgerEntry{
			ID:            EntryID("ent-" + uuid.NewString()),
			Type:          entryType,
			AccountID:     from,
			Amount:        amount.Neg(),
			BalanceBefore: src.Balance,
			BalanceAfter:  srcAfter,
			RideID:        rideID,
			Description:   description,
			CreatedAt:     now,
		},
		Credit: LedgerEntry{
			ID:            EntryID("ent-" + uuid.NewString()),
			Type:          creditTypeFor(entryType),
			AccountID:     to,
			Amount:        amount,
			BalanceBefore: dst.Balance,
			BalanceAfter:  dstAfter,
			RideID:        rideID,
			Description:   description,
			CreatedAt:     now,
		},
	}

	if err := l.Store.AppendEntries(ctx, []LedgerEntry{pair.Debit, pair.Credit}); err != nil {
		return EntryPair{}, err
	}
	if err := l.Store.UpdateBalance(ctx, from, srcAfter); err != nil {
		return EntryPair{}, err
	}
	if err := l.Store.UpdateBalance(ctx, to, dstAfter); err != nil {
		return EntryPair{}, err
	}

	return pair, nil
}

// Adjust credits (or, with a negative amount, debits) a single account
// outside the conservation rule. Used for merchant top-ups, where money
// enters the system from outside. A debit that would take the balance
// below zero is rejected.
func (l *Ledger) Adjust(ctx context.Context, id AccountID, amount Money, description string) (LedgerEntry, error) {
	if amount.IsZero() {
		return LedgerEntry{}, ErrInvalidAmount
	}

	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return LedgerEntry{}, err
	}
	if acct.Balance.Currency != amount.Currency {
		return LedgerEntry{}, ErrCurrencyMismatch
	}

	after := acct.Balance.Add(amount)
	if after.IsNegative() {
		return LedgerEntry{}, &InsufficientFundsError{
			AccountID: id,
			Available: acct.Balance,
			Requested: amount.Neg(),
		}
	}

	entry := LedgerEntry{
		ID:            EntryID("ent-" + uuid.NewString()),
		Type:          EntryWalletAdjustment,
		AccountID:     id,
		Amount:        amount,
		BalanceBefore: acct.Balance,
		BalanceAfter:  after,
		Description:   description,
		CreatedAt:     l.clock().UTC(),
	}

	if err := l.Store.AppendEntries(ctx, []LedgerEntry{entry}); err != nil {
		return LedgerEntry{}, err
	}
	if err := l.Store.UpdateBalance(ctx, id, after); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// Balance returns the current stored balance for an account.
func (l *Ledger) Balance(ctx context.Context, id AccountID) (Money, error) {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return Money{}, err
	}
	return acct.Balance, nil
}

// History returns the ordered entry log for an account.
func (l *Ledger) History(ctx context.Context, id AccountID) ([]LedgerEntry, error) {
	return l.Store.Entries(ctx, id)
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

// VerifyChain checks that entries for a single account form an unbroken
// before/after chain. Entries must be in ledger order.
func VerifyChain(accountID AccountID, entries []LedgerEntry) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if !cur.BalanceBefore.Equal(prev.BalanceAfter) {
			return &ChainError{
				AccountID: accountID,
				EntryID:   cur.ID,
				Expected:  prev.BalanceAfter,
				Got:       cur.BalanceBefore,
			}
		}
		if !cur.BalanceAfter.Equal(cur.BalanceBefore.Add(cur.Amount)) {
			return &ChainError{
				AccountID: accountID,
				EntryID:   cur.ID,
				Expected:  cur.BalanceBefore.Add(cur.Amount),
				Got:       cur.BalanceAfter,
			}
		}
	}
	return nil
}

// SumEntries returns the signed sum of a set of entries. For a completed
// ride's entries this must be zero: money moves, it is never created.
func SumEntries(entries []LedgerEntry) Money {
	if len(entries) == 0 {
		return ZeroMoney(DefaultCurrency)
	}
	sum := ZeroMoney(entries[0].Amount.Currency)
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}
