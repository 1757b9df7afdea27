package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Money value carries.
const Scale = 4

// Money is a non-floating decimal amount at fixed scale 4.
// Currency lives on the owning account or transaction.
type Money struct {
	amount decimal.Decimal
}

// Zero returns the zero amount.
func Zero() Money {
	return Money{}
}

// NewMoney wraps d, rejecting values that need more than Scale fractional digits.
func NewMoney(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return Money{}, fmt.Errorf("%w: %s", ErrScaleExceeded, d.String())
	}
	return Money{amount: d.Truncate(Scale)}, nil
}

// ParseMoney parses a decimal string such as "150.00" or "0.0001".
// Trailing zeros past the fourth digit are accepted; any other digit past it is not.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return NewMoney(d)
}

// MustParseMoney is ParseMoney for literals known to be valid.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + o. Both operands are at scale 4 so the sum is exact.
func (m Money) Add(o Money) Money {
	return Money{amount: m.amount.Add(o.amount)}
}

// Subtract returns m - o.
func (m Money) Subtract(o Money) Money {
	return Money{amount: m.amount.Sub(o.amount)}
}

// Cmp returns -1, 0 or 1.
func (m Money) Cmp(o Money) int {
	return m.amount.Cmp(o.amount)
}

func (m Money) Equal(o Money) bool { return m.Cmp(o) == 0 }

func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }

func (m Money) LessThan(o Money) bool { return m.Cmp(o) < 0 }

func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) IsZero() bool { return m.amount.IsZero() }

// Decimal exposes the underlying value.
func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

// String renders the amount with exactly four fractional digits, e.g. "900.0000".
func (m Money) String() string {
	return m.amount.StringFixed(Scale)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMoney(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
