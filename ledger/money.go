/*
money.go - Fixed-point monetary amounts

PURPOSE:
  Money is the only representation of value in the system. It pairs a
  decimal value with an explicit currency tag so amounts from different
  wallets can never be mixed silently.

DESIGN:
  - decimal.Decimal, never float64: repeated debit/credit pairs must not
    accumulate rounding drift.
  - Two-decimal quantization on display, full precision internally.
  - Comparison helpers mirror the decimal API so call sites read naturally:
    balance.GreaterThanOrEqual(total)

SEE ALSO:
  - types.go: Account and LedgerEntry, which carry Money
  - ledger.go: Transfer, the only mutation path for balances
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when callers don't specify one.
const DefaultCurrency = "INR"

type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int64, currency string) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: currency}
}

// ParseMoney parses a stored decimal string. A value that does not
// parse is a corrupted stored amount, which callers must treat as
// fatal rather than read as zero.
func ParseMoney(value, currency string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("corrupt monetary value %q: %w", value, err)
	}
	return Money{Value: d, Currency: currency}, nil
}

func ZeroMoney(currency string) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

func (m Money) Add(b Money) Money               { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money               { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money                      { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool                    { return m.Value.IsZero() }
func (m Money) IsNegative() bool                { return m.Value.IsNegative() }
func (m Money) IsPositive() bool                { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool              { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool        { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool           { return m.Value.LessThan(b.Value) }
func (m Money) GreaterThanOrEqual(b Money) bool { return m.Value.GreaterThanOrEqual(b.Value) }

// String renders the amount quantized to two decimals, e.g. "150.00 INR".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value.StringFixed(2), m.Currency)
}
