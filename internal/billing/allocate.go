package billing

import (
	"fmt"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/money"
)

// Allocation is the result of applying one payment to a statement's paid breakdown.
type Allocation struct {
	// Paid is the new cumulative paid breakdown.
	Paid Breakdown `json:"paid_breakdown"`
	// Applied is the per-category delta added by this payment.
	Applied Breakdown `json:"applied"`
	// Unallocated is the part of the payment not reflected in any category.
	// It is non-zero only for PurposeAll payments that exceed what remains due.
	Unallocated money.Money `json:"unallocated"`
}

// Allocate spreads amount over the statement's categories according to purpose.
//
// A single-category purpose adds the whole amount to that category with no cap:
// overpaying one category is recorded as-is.
//
// PurposeAll splits the amount in proportion to each category's remaining due
// (charge minus paid, not floored at zero) and caps every share at that remaining
// value. Shares are rounded down to cents; the leftover cents go to categories that
// still have room below their remaining due, last category first. A category whose
// remaining due is >= 0 therefore never receives a negative share, and when the
// payment does not exceed the total remaining the shares add up to the payment
// exactly. When nothing remains due the breakdown is left untouched and the whole
// amount is Unallocated.
func Allocate(st Statement, purpose Purpose, amount money.Money) (Allocation, error) {
	if _, err := ParsePurpose(string(purpose)); err != nil {
		return Allocation{}, err
	}
	if purpose == PurposeAll {
		if amount.IsNegative() {
			return Allocation{}, fmt.Errorf("%w: amount must be >= 0", apperr.ErrValidation)
		}
	} else if !amount.IsPositive() {
		return Allocation{}, fmt.Errorf("%w: amount must be > 0", apperr.ErrValidation)
	}

	if c, ok := purpose.Category(); ok {
		applied := Breakdown{}.With(c, amount)
		return Allocation{Paid: st.Paid.Add(applied), Applied: applied, Unallocated: money.Zero}, nil
	}
	return allocateProportional(st, amount), nil
}

func allocateProportional(st Statement, amount money.Money) Allocation {
	remaining := st.Remaining()
	totalRemaining := remaining.Total()
	if !totalRemaining.IsPositive() {
		return Allocation{Paid: st.Paid, Applied: Breakdown{}, Unallocated: amount}
	}

	applied := Breakdown{}
	allocated := money.Zero
	for _, c := range Categories {
		rem := remaining.Get(c)
		share := money.Min(amount.ProRata(rem, totalRemaining), rem)
		applied = applied.With(c, share)
		allocated = allocated.Add(share)
	}

	leftover := amount.Sub(allocated)
	for i := len(Categories) - 1; i >= 0 && leftover.IsPositive(); i-- {
		c := Categories[i]
		room := remaining.Get(c).Sub(applied.Get(c))
		if !room.IsPositive() {
			continue
		}
		extra := money.Min(leftover, room)
		applied = applied.With(c, applied.Get(c).Add(extra))
		leftover = leftover.Sub(extra)
	}

	return Allocation{
		Paid:        st.Paid.Add(applied),
		Applied:     applied,
		Unallocated: leftover,
	}
}
