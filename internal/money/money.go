// Package money is an exact decimal amount used for every currency value in the service.
//
// Arithmetic runs at full decimal precision. Values are rounded to two places only
// when they cross a storage or presentation boundary (String, MarshalJSON, Value, Cents).
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept at storage and wire boundaries.
const Scale = 2

// Money is an exact decimal amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// Parse reads a decimal literal such as "450", "450.5" or "-12.75".
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q", s)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt returns a whole amount.
func FromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// FromCents returns the amount represented by v minor units.
func FromCents(v int64) Money { return Money{d: decimal.New(v, -Scale)} }

// FromDecimal wraps an existing decimal.
func FromDecimal(d decimal.Decimal) Money { return Money{d: d} }

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// Mul multiplies by a decimal scalar without rounding.
func (m Money) Mul(f decimal.Decimal) Money { return Money{d: m.d.Mul(f)} }

// Ratio returns m/o as a scalar. Division is carried out with decimal.DivisionPrecision digits.
func (m Money) Ratio(o Money) decimal.Decimal { return m.d.Div(o.d) }

// Round returns m rounded half away from zero to Scale places.
func (m Money) Round() Money { return Money{d: m.d.Round(Scale)} }

// ProRata returns m * part / whole rounded down to Scale places. The quotient is
// first rounded to 10 places so that division noise never drops a whole cent.
func (m Money) ProRata(part, whole Money) Money {
	q := m.d.Mul(part.d).DivRound(whole.d, 10)
	return Money{d: q.RoundFloor(Scale)}
}

func (m Money) Cmp(o Money) int              { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool           { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool        { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool     { return m.d.GreaterThan(o.d) }
func (m Money) GreaterOrEqual(o Money) bool  { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) IsZero() bool                 { return m.d.IsZero() }
func (m Money) IsPositive() bool             { return m.d.IsPositive() }
func (m Money) IsNegative() bool             { return m.d.IsNegative() }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Cents returns the amount in minor units, rounded to Scale places.
func (m Money) Cents() int64 {
	return m.d.Round(Scale).Shift(Scale).IntPart()
}

// String formats the amount with exactly two fractional digits.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// MarshalJSON encodes the amount as a decimal string, never as a binary float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number literal.
// Bare numbers are parsed from their text, so no float conversion takes place.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the rounded amount as a NUMERIC literal.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads NUMERIC, text or integer columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	m.d = d
	return nil
}
