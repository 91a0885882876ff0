package billing

import (
	"fmt"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/money"
)

// Category is one of the three charge lines on a statement.
type Category string

const (
	CategoryWater   Category = "water"
	CategoryHOA     Category = "hoa"
	CategoryGarbage Category = "garbage"
)

// Categories lists the charge lines in allocation order. Leftover cents are handed out from the last one backwards.
var Categories = []Category{CategoryWater, CategoryHOA, CategoryGarbage}

// Breakdown holds one amount per category. It is used for charges, paid totals
// and per-transaction allocations.
type Breakdown struct {
	Water   money.Money `json:"water"`
	HOA     money.Money `json:"hoa"`
	Garbage money.Money `json:"garbage"`
}

// Get returns the amount for c.
func (b Breakdown) Get(c Category) money.Money {
	switch c {
	case CategoryWater:
		return b.Water
	case CategoryHOA:
		return b.HOA
	case CategoryGarbage:
		return b.Garbage
	}
	return money.Zero
}

// With returns a copy of b with c set to v.
func (b Breakdown) With(c Category, v money.Money) Breakdown {
	switch c {
	case CategoryWater:
		b.Water = v
	case CategoryHOA:
		b.HOA = v
	case CategoryGarbage:
		b.Garbage = v
	}
	return b
}

func (b Breakdown) Total() money.Money {
	return money.Sum(b.Water, b.HOA, b.Garbage)
}

func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		Water:   b.Water.Add(o.Water),
		HOA:     b.HOA.Add(o.HOA),
		Garbage: b.Garbage.Add(o.Garbage),
	}
}

func (b Breakdown) Sub(o Breakdown) Breakdown {
	return Breakdown{
		Water:   b.Water.Sub(o.Water),
		HOA:     b.HOA.Sub(o.HOA),
		Garbage: b.Garbage.Sub(o.Garbage),
	}
}

// Round rounds every category to storage precision.
func (b Breakdown) Round() Breakdown {
	return Breakdown{Water: b.Water.Round(), HOA: b.HOA.Round(), Garbage: b.Garbage.Round()}
}

func (b Breakdown) validateNonNegative(field string) error {
	for _, c := range Categories {
		if b.Get(c).IsNegative() {
			return fmt.Errorf("%w: %s.%s must be >= 0", apperr.ErrValidation, field, c)
		}
	}
	return nil
}
