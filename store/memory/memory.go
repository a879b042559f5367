/*
Package memory provides in-memory Store implementations (for testing/dev).

PURPOSE:
  Implements ledger.Store, ride.Store and the transactional runner with
  plain maps guarded by one RWMutex. WithTx takes a deep snapshot before
  running the unit and restores it on error, which gives tests the same
  all-or-nothing behavior as the SQLite store without a database.

SEE ALSO:
  - store/sqlite/sqlite.go: the production store
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uma/settlement-engine/ledger"
	"github.com/uma/settlement-engine/ride"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	d  data
}

// data holds the actual state. Its methods assume the caller holds the
// Memory lock; WithTx clones it wholesale for rollback.
type data struct {
	accounts map[ledger.AccountID]*ledger.Account
	entries  []ledger.LedgerEntry
	offers   map[ride.OfferID]*ride.Offer
	rides    map[ride.ID]*ride.Ride
	byCode   map[string]ride.ID
}

func New() *Memory {
	m := &Memory{d: newData()}

	// Seed the platform revenue sink, same as the SQLite migration.
	now := time.Now().UTC()
	m.d.accounts[ledger.PlatformAccountID] = &ledger.Account{
		ID:        ledger.PlatformAccountID,
		Kind:      ledger.KindPlatform,
		Name:      "Platform Revenue",
		Balance:   ledger.ZeroMoney(ledger.DefaultCurrency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m
}

func newData() data {
	return data{
		accounts: make(map[ledger.AccountID]*ledger.Account),
		offers:   make(map[ride.OfferID]*ride.Offer),
		rides:    make(map[ride.ID]*ride.Ride),
		byCode:   make(map[string]ride.ID),
	}
}

func (d *data) clone() data {
	c := newData()
	for id, a := range d.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	c.entries = make([]ledger.LedgerEntry, len(d.entries))
	copy(c.entries, d.entries)
	for id, o := range d.offers {
		cp := *o
		c.offers[id] = &cp
	}
	for id, r := range d.rides {
		cp := *r
		if r.CompletedAt != nil {
			t := *r.CompletedAt
			cp.CompletedAt = &t
		}
		c.rides[id] = &cp
	}
	for code, id := range d.byCode {
		c.byCode[code] = id
	}
	return c
}

// WithTx runs fn against the live data under the write lock. On error
// the pre-unit snapshot is restored, so partial writes never survive.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store, ride.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	v := &view{d: &m.d}
	if err := fn(v, v); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKED DELEGATION
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).GetAccount(ctx, id)
}

func (m *Memory) SaveAccount(ctx context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).SaveAccount(ctx, acct)
}

func (m *Memory) UpdateBalance(ctx context.Context, id ledger.AccountID, balance ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).UpdateBalance(ctx, id, balance)
}

func (m *Memory) IncrementStrikes(ctx context.Context, id ledger.AccountID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).IncrementStrikes(ctx, id)
}

func (m *Memory) AppendEntries(ctx context.Context, entries []ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).AppendEntries(ctx, entries)
}

func (m *Memory) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).Entries(ctx, accountID)
}

func (m *Memory) EntriesByRide(ctx context.Context, rideID string) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).EntriesByRide(ctx, rideID)
}

func (m *Memory) SaveOffer(ctx context.Context, offer ride.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).SaveOffer(ctx, offer)
}

func (m *Memory) GetOffer(ctx context.Context, id ride.OfferID) (*ride.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).GetOffer(ctx, id)
}

func (m *Memory) ListOffers(ctx context.Context, merchantID string) ([]ride.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).ListOffers(ctx, merchantID)
}

func (m *Memory) SetOfferActive(ctx context.Context, id ride.OfferID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).SetOfferActive(ctx, id, active)
}

func (m *Memory) CreateRide(ctx context.Context, r ride.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).CreateRide(ctx, r)
}

func (m *Memory) GetRide(ctx context.Context, id ride.ID) (*ride.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).GetRide(ctx, id)
}

func (m *Memory) GetRideByCode(ctx context.Context, code string) (*ride.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).GetRideByCode(ctx, code)
}

func (m *Memory) TransitionState(ctx context.Context, id ride.ID, from, to ride.State, completedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{d: &m.d}).TransitionState(ctx, id, from, to, completedAt)
}

func (m *Memory) CountCompleted(ctx context.Context, riderID, merchantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).CountCompleted(ctx, riderID, merchantID)
}

func (m *Memory) ListStalePending(ctx context.Context, cutoff time.Time) ([]ride.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&view{d: &m.d}).ListStalePending(ctx, cutoff)
}

// =============================================================================
// VIEW - Unlocked operations, shared by the store and WithTx
// =============================================================================

type view struct {
	d *data
}

// ---- ledger.Store ----

func (v *view) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, ok := v.d.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (v *view) SaveAccount(_ context.Context, acct ledger.Account) error {
	now := time.Now().UTC()
	if existing, ok := v.d.accounts[acct.ID]; ok {
		existing.Name = acct.Name
		existing.UpdatedAt = now
		return nil
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	cp := acct
	v.d.accounts[acct.ID] = &cp
	return nil
}

func (v *view) UpdateBalance(_ context.Context, id ledger.AccountID, balance ledger.Money) error {
	a, ok := v.d.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (v *view) IncrementStrikes(_ context.Context, id ledger.AccountID) (int, error) {
	a, ok := v.d.accounts[id]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	a.StrikeCount++
	a.UpdatedAt = time.Now().UTC()
	return a.StrikeCount, nil
}

func (v *view) AppendEntries(_ context.Context, entries []ledger.LedgerEntry) error {
	v.d.entries = append(v.d.entries, entries...)
	return nil
}

func (v *view) Entries(_ context.Context, accountID ledger.AccountID) ([]ledger.LedgerEntry, error) {
	var result []ledger.LedgerEntry
	for _, e := range v.d.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (v *view) EntriesByRide(_ context.Context, rideID string) ([]ledger.LedgerEntry, error) {
	var result []ledger.LedgerEntry
	for _, e := range v.d.entries {
		if e.RideID == rideID {
			result = append(result, e)
		}
	}
	return result, nil
}

// ---- ride.Store ----

func (v *view) SaveOffer(_ context.Context, offer ride.Offer) error {
	now := time.Now().UTC()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = now
	}
	offer.UpdatedAt = now
	cp := offer
	v.d.offers[offer.ID] = &cp
	return nil
}

func (v *view) GetOffer(_ context.Context, id ride.OfferID) (*ride.Offer, error) {
	o, ok := v.d.offers[id]
	if !ok {
		return nil, ride.ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (v *view) ListOffers(_ context.Context, merchantID string) ([]ride.Offer, error) {
	var result []ride.Offer
	for _, o := range v.d.offers {
		if merchantID == "" || string(o.MerchantID) == merchantID {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (v *view) SetOfferActive(_ context.Context, id ride.OfferID, active bool) error {
	o, ok := v.d.offers[id]
	if !ok {
		return ride.ErrOfferNotFound
	}
	o.Active = active
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (v *view) CreateRide(_ context.Context, r ride.Ride) error {
	if _, taken := v.d.byCode[r.Code]; taken {
		return fmt.Errorf("code already in use: %s", r.Code)
	}
	cp := r
	v.d.rides[r.ID] = &cp
	v.d.byCode[r.Code] = r.ID
	return nil
}

func (v *view) GetRide(_ context.Context, id ride.ID) (*ride.Ride, error) {
	r, ok := v.d.rides[id]
	if !ok {
		return nil, ride.ErrRideNotFound
	}
	return copyRide(r), nil
}

func (v *view) GetRideByCode(_ context.Context, code string) (*ride.Ride, error) {
	id, ok := v.d.byCode[code]
	if !ok {
		return nil, ride.ErrRideNotFound
	}
	return copyRide(v.d.rides[id]), nil
}

func (v *view) TransitionState(_ context.Context, id ride.ID, from, to ride.State, completedAt *time.Time) (bool, error) {
	r, ok := v.d.rides[id]
	if !ok {
		return false, ride.ErrRideNotFound
	}
	if r.State != from {
		return false, nil
	}
	r.State = to
	if completedAt != nil {
		t := *completedAt
		r.CompletedAt = &t
	}
	return true, nil
}

func (v *view) CountCompleted(_ context.Context, riderID, merchantID string) (int, error) {
	count := 0
	for _, r := range v.d.rides {
		if string(r.RiderID) == riderID && string(r.MerchantID) == merchantID &&
			r.State == ride.StateCompleted {
			count++
		}
	}
	return count, nil
}

func (v *view) ListStalePending(_ context.Context, cutoff time.Time) ([]ride.Ride, error) {
	var result []ride.Ride
	for _, r := range v.d.rides {
		if r.State == ride.StatePending && r.CreatedAt.Before(cutoff) {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func copyRide(r *ride.Ride) *ride.Ride {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
