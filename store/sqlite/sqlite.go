/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, ride.Store) plus the
  transactional runner used by settlement. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:       Accounts and the append-only entry log
  ride.Store:         Offers and rides (redemption attempts)
  handshake.TxRunner: WithTx, the durable unit for an entire settlement

APPEND-ONLY ENFORCEMENT:
  The Store enforces append-only semantics on the entries table:
  - No UPDATE statements on entries
  - No DELETE statements on entries
  - The seq column (rowid) preserves append order, which is what
    chain verification replays

KEY TABLES:
  accounts: Wallets with stored balance and the rider strike counter
  offers:   Merchant deals (discount, reimbursement, fee, bonus)
  rides:    Redemption attempts with amounts frozen at booking; UNIQUE(code)
  entries:  Immutable ledger with balance_before/balance_after per row

INDEXES:
  Critical indexes for performance:
  - idx_rides_status_created: Stale-pending listing (sweep hot path)
  - idx_rides_rider_merchant_status: New-customer check
  - idx_entries_account: Per-account history and chain replay
  - idx_entries_ride: Settlement audit by ride

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole unit, so a balance read inside a settlement can never
  observe a stale, about-to-change value: two settlements debiting the
  same merchant are fully serialized here.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/settlement.db", "INR")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  // Use with ledger
  l := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Account and entry interface definitions
  - ride/store.go: Offer and ride interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New opens (or creates) the database at dbPath and migrates the
// schema. The platform revenue account is seeded on first run.
// Use ":memory:" for tests.
func New(dbPath, currency string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to ":memory:" would see its own empty
	// database, so pin the pool to one connection. Harmless for file
	// databases too: the store-wide mutex already serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: queries{db: db}}
	if err := s.migrate(currency); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(currency string) error {
	schema := `
	-- Accounts (wallets)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		strike_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Offers
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES accounts(id),
		title TEXT NOT NULL,
		discount_percent INTEGER NOT NULL,
		reimbursement TEXT NOT NULL,
		visit_fee TEXT NOT NULL,
		bonus_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		bonus TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offers_merchant ON offers(merchant_id);

	-- Rides (redemption attempts; amounts frozen at booking)
	CREATE TABLE IF NOT EXISTS rides (
		id TEXT PRIMARY KEY,
		rider_id TEXT NOT NULL REFERENCES accounts(id),
		merchant_id TEXT NOT NULL REFERENCES accounts(id),
		offer_id TEXT NOT NULL REFERENCES offers(id),
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		discount_percent INTEGER NOT NULL,
		reimbursement TEXT NOT NULL,
		visit_fee TEXT NOT NULL,
		bonus_enabled BOOLEAN NOT NULL,
		bonus TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rides_status_created
		ON rides(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_rides_rider_merchant_status
		ON rides(rider_id, merchant_id, status);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entry_type TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		currency TEXT NOT NULL,
		ride_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account ON entries(account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_ride ON entries(ride_id) WHERE ride_id IS NOT NULL;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Seed the platform revenue sink.
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO accounts (id, kind, name, balance, currency, strike_count, created_at, updated_at)
		VALUES (?, 'platform', 'Platform Revenue', '0', ?, 0, ?, ?)`,
		string(ledger.PlatformAccountID), currency, now, now,
	)
	return err
}

// =============================================================================
// TRANSACTIONAL RUNNER (handshake.TxRunner)
// =============================================================================

// WithTx executes fn within a single database transaction, passing it
// transaction-scoped views of both stores. Rolls back on error.
// The write lock is held for the whole unit: this is the account-level
// serialization the funds check relies on.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store, ride.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	q := &queries{db: tx}
	if err := fn(q, q); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// LOCKED DELEGATION - Store methods take the mutex and forward to queries
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetAccount(ctx, id)
}

func (s *Store) SaveAccount(ctx context.Context, acct ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveAccount(ctx, acct)
}

func (s *Store) UpdateBalance(ctx context.Context, id ledger.AccountID, balance ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateBalance(ctx, id, balance)
}

func (s *Store) IncrementStrikes(ctx context.Context, id ledger.AccountID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.IncrementStrikes(ctx, id)
}

func (s *Store) AppendEntries(ctx context.Context, entries []ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendEntries(ctx, entries)
}

func (s *Store) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Entries(ctx, accountID)
}

func (s *Store) EntriesByRide(ctx context.Context, rideID string) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.EntriesByRide(ctx, rideID)
}

func (s *Store) SaveOffer(ctx context.Context, offer ride.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveOffer(ctx, offer)
}

func (s *Store) GetOffer(ctx context.Context, id ride.OfferID) (*ride.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetOffer(ctx, id)
}

func (s *Store) ListOffers(ctx context.Context, merchantID string) ([]ride.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListOffers(ctx, merchantID)
}

func (s *Store) SetOfferActive(ctx context.Context, id ride.OfferID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SetOfferActive(ctx, id, active)
}

func (s *Store) CreateRide(ctx context.Context, r ride.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateRide(ctx, r)
}

func (s *Store) GetRide(ctx context.Context, id ride.ID) (*ride.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRide(ctx, id)
}

func (s *Store) GetRideByCode(ctx context.Context, code string) (*ride.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRideByCode(ctx, code)
}

func (s *Store) TransitionState(ctx context.Context, id ride.ID, from, to ride.State, completedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.TransitionState(ctx, id, from, to, completedAt)
}

func (s *Store) CountCompleted(ctx context.Context, riderID, merchantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountCompleted(ctx, riderID, merchantID)
}

func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]ride.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListStalePending(ctx, cutoff)
}

// =============================================================================
// QUERIES - Shared between the store and transaction-scoped views
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// -----------------------------------------------------------------------------
// ledger.Store
// -----------------------------------------------------------------------------

func (q *queries) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	var (
		a                    ledger.Account
		balance, currency    string
		createdAt, updatedAt string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, kind, name, balance, currency, strike_count, created_at, updated_at
		 FROM accounts WHERE id = ?`, string(id),
	).Scan(&a.ID, &a.Kind, &a.Name, &balance, &currency, &a.StrikeCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if a.Balance, err = ledger.ParseMoney(balance, currency); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

func (q *queries) SaveAccount(ctx context.Context, acct ledger.Account) error {
	now := time.Now().UTC()
	created := acct.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, name, balance, currency, strike_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		string(acct.ID), string(acct.Kind), acct.Name,
		acct.Balance.Value.String(), acct.Balance.Currency,
		acct.StrikeCount, created.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (q *queries) UpdateBalance(ctx context.Context, id ledger.AccountID, balance ledger.Money) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.Value.String(), time.Now().UTC().Format(time.RFC3339), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (q *queries) IncrementStrikes(ctx context.Context, id ledger.AccountID) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET strike_count = strike_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), string(id),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to increment strikes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ledger.ErrAccountNotFound
	}

	var count int
	err = q.db.QueryRowContext(ctx,
		`SELECT strike_count FROM accounts WHERE id = ?`, string(id),
	).Scan(&count)
	return count, err
}

func (q *queries) AppendEntries(ctx context.Context, entries []ledger.LedgerEntry) error {
	for _, e := range entries {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO entries
			(id, entry_type, account_id, amount, balance_before, balance_after, currency, ride_id, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(e.ID), string(e.Type), string(e.AccountID),
			e.Amount.Value.String(),
			e.BalanceBefore.Value.String(), e.BalanceAfter.Value.String(),
			e.Amount.Currency, nullString(e.RideID), e.Description,
			e.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to append entry: %w", err)
		}
	}
	return nil
}

const entryColumns = `id, entry_type, account_id, amount, balance_before, balance_after, currency, ride_id, description, created_at`

func (q *queries) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE account_id = ? ORDER BY seq ASC`,
		string(accountID))
}

func (q *queries) EntriesByRide(ctx context.Context, rideID string) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE ride_id = ? ORDER BY seq ASC`,
		rideID)
}

func (q *queries) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		var (
			e                          ledger.LedgerEntry
			amount, before, after, cur string
			rideID                     sql.NullString
			createdAt                  string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AccountID, &amount, &before, &after,
			&cur, &rideID, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Amount, err = ledger.ParseMoney(amount, cur); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if e.BalanceBefore, err = ledger.ParseMoney(before, cur); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if e.BalanceAfter, err = ledger.ParseMoney(after, cur); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		e.RideID = rideID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// -----------------------------------------------------------------------------
// ride.Store
// -----------------------------------------------------------------------------

const offerColumns = `id, merchant_id, title, discount_percent, reimbursement, visit_fee, bonus_enabled, bonus, currency, active, created_at, updated_at`

func (q *queries) SaveOffer(ctx context.Context, o ride.Offer) error {
	now := time.Now().UTC()
	created := o.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO offers
		(id, merchant_id, title, discount_percent, reimbursement, visit_fee, bonus_enabled, bonus, currency, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			discount_percent = excluded.discount_percent,
			reimbursement = excluded.reimbursement,
			visit_fee = excluded.visit_fee,
			bonus_enabled = excluded.bonus_enabled,
			bonus = excluded.bonus,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		string(o.ID), o.MerchantID, o.Title, o.DiscountPercent,
		o.Reimbursement.Value.String(), o.VisitFee.Value.String(),
		o.BonusEnabled, o.Bonus.Value.String(), o.Reimbursement.Currency,
		o.Active, created.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save offer: %w", err)
	}
	return nil
}

func (q *queries) GetOffer(ctx context.Context, id ride.OfferID) (*ride.Offer, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = ?`, string(id))
	o, err := scanOffer(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ride.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return o, nil
}

func (q *queries) ListOffers(ctx context.Context, merchantID string) ([]ride.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers ORDER BY created_at DESC`
	var args []any
	if merchantID != "" {
		query = `SELECT ` + offerColumns + ` FROM offers WHERE merchant_id = ? ORDER BY created_at DESC`
		args = append(args, merchantID)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []ride.Offer
	for rows.Next() {
		o, err := scanOffer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func scanOffer(scan func(dest ...any) error) (*ride.Offer, error) {
	var (
		o                              ride.Offer
		reimbursement, visitFee, bonus string
		currency, createdAt, updatedAt string
	)
	err := scan(&o.ID, &o.MerchantID, &o.Title, &o.DiscountPercent,
		&reimbursement, &visitFee, &o.BonusEnabled, &bonus,
		&currency, &o.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if o.Reimbursement, err = ledger.ParseMoney(reimbursement, currency); err != nil {
		return nil, fmt.Errorf("offer %s: %w", o.ID, err)
	}
	if o.VisitFee, err = ledger.ParseMoney(visitFee, currency); err != nil {
		return nil, fmt.Errorf("offer %s: %w", o.ID, err)
	}
	if o.Bonus, err = ledger.ParseMoney(bonus, currency); err != nil {
		return nil, fmt.Errorf("offer %s: %w", o.ID, err)
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &o, nil
}

func (q *queries) SetOfferActive(ctx context.Context, id ride.OfferID, active bool) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE offers SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().Format(time.RFC3339), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ride.ErrOfferNotFound
	}
	return nil
}

const rideColumns = `id, rider_id, merchant_id, offer_id, code, status, discount_percent, reimbursement, visit_fee, bonus_enabled, bonus, currency, created_at, completed_at`

func (q *queries) CreateRide(ctx context.Context, r ride.Ride) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rides
		(id, rider_id, merchant_id, offer_id, code, status, discount_percent, reimbursement, visit_fee, bonus_enabled, bonus, currency, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		string(r.ID), r.RiderID, r.MerchantID, string(r.Offer.OfferID),
		r.Code, string(r.State), r.Offer.DiscountPercent,
		r.Offer.Reimbursement.Value.String(), r.Offer.VisitFee.Value.String(),
		r.Offer.BonusEnabled, r.Offer.Bonus.Value.String(),
		r.Offer.Reimbursement.Currency,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("code already in use: %w", err)
		}
		return fmt.Errorf("failed to create ride: %w", err)
	}
	return nil
}

func (q *queries) GetRide(ctx context.Context, id ride.ID) (*ride.Ride, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = ?`, string(id))
	r, err := scanRide(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ride.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return r, nil
}

func (q *queries) GetRideByCode(ctx context.Context, code string) (*ride.Ride, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE code = ?`, code)
	r, err := scanRide(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ride.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ride by code: %w", err)
	}
	return r, nil
}

func scanRide(scan func(dest ...any) error) (*ride.Ride, error) {
	var (
		r                              ride.Ride
		reimbursement, visitFee, bonus string
		currency, createdAt            string
		completedAt                    sql.NullString
	)
	err := scan(&r.ID, &r.RiderID, &r.MerchantID, &r.Offer.OfferID, &r.Code, &r.State,
		&r.Offer.DiscountPercent, &reimbursement, &visitFee,
		&r.Offer.BonusEnabled, &bonus, &currency, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if r.Offer.Reimbursement, err = ledger.ParseMoney(reimbursement, currency); err != nil {
		return nil, fmt.Errorf("ride %s: %w", r.ID, err)
	}
	if r.Offer.VisitFee, err = ledger.ParseMoney(visitFee, currency); err != nil {
		return nil, fmt.Errorf("ride %s: %w", r.ID, err)
	}
	if r.Offer.Bonus, err = ledger.ParseMoney(bonus, currency); err != nil {
		return nil, fmt.Errorf("ride %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		r.CompletedAt = &t
	}
	return &r, nil
}

// TransitionState is the guarded compare-and-set behind every terminal
// transition: the UPDATE applies only while the ride is still in the
// expected source state.
func (q *queries) TransitionState(ctx context.Context, id ride.ID, from, to ride.State, completedAt *time.Time) (bool, error) {
	var completed any
	if completedAt != nil {
		completed = completedAt.UTC().Format(time.RFC3339)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE rides SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(to), completed, string(id), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition ride: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *queries) CountCompleted(ctx context.Context, riderID, merchantID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rides WHERE rider_id = ? AND merchant_id = ? AND status = ?`,
		riderID, merchantID, string(ride.StateCompleted),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed rides: %w", err)
	}
	return count, nil
}

func (q *queries) ListStalePending(ctx context.Context, cutoff time.Time) ([]ride.Ride, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+rideColumns+` FROM rides
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC`,
		string(ride.StatePending), cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale rides: %w", err)
	}
	defer rows.Close()

	var rides []ride.Ride
	for rows.Next() {
		r, err := scanRide(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, *r)
	}
	return rides, rows.Err()
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
