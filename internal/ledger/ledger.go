// Package ledger applies deposits and debits to wallets and produces their
// append-only history. Functions are pure; the settlement package persists the
// results inside one unit of work.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ids"
	"villagepay.org/internal/money"
)

// Op describes a balance change.
type Op struct {
	Amount      money.Money
	Description string
	Actor       string
	Reference   string
}

func (op Op) validate() (Op, error) {
	op.Description = strings.TrimSpace(op.Description)
	if op.Description == "" {
		return op, fmt.Errorf("%w: description is required", apperr.ErrValidation)
	}
	if !op.Amount.IsPositive() {
		return op, fmt.Errorf("%w: amount must be > 0", apperr.ErrValidation)
	}
	op.Amount = op.Amount.Round()
	if op.Amount.IsZero() {
		return op, fmt.Errorf("%w: amount rounds to zero", apperr.ErrValidation)
	}
	return op, nil
}

// NewHomeownerWallet returns an empty wallet for ownerID.
func NewHomeownerWallet(ownerID string, advance billing.Breakdown, now time.Time) (Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Wallet{}, fmt.Errorf("%w: owner_id is required", apperr.ErrValidation)
	}
	for _, c := range billing.Categories {
		if advance.Get(c).IsNegative() {
			return Wallet{}, fmt.Errorf("%w: advance %s must be >= 0", apperr.ErrValidation, c)
		}
	}
	now = now.UTC()
	return Wallet{
		ID:        ids.Prefixed("wal"),
		OwnerID:   ownerID,
		Kind:      KindHomeowner,
		Balance:   money.Zero,
		Advance:   advance.Round(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewVillageWallet returns the empty village wallet singleton. An empty id means VillageWalletID.
func NewVillageWallet(id string, now time.Time) Wallet {
	if id = strings.TrimSpace(id); id == "" {
		id = VillageWalletID
	}
	now = now.UTC()
	return Wallet{
		ID:        id,
		Kind:      KindVillage,
		Balance:   money.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Deposit credits w by op.Amount.
func Deposit(w Wallet, op Op, now time.Time) (Wallet, Entry, error) {
	op, err := op.validate()
	if err != nil {
		return w, Entry{}, err
	}
	return apply(w, op.Amount, now), entryFor(w, EntryCollect, op.Amount, op, now), nil
}

// Spend debits w by op.Amount. It fails with ErrInsufficientFunds, leaving w
// unchanged, when the balance does not cover the amount.
func Spend(w Wallet, op Op, now time.Time) (Wallet, Entry, error) {
	op, err := op.validate()
	if err != nil {
		return w, Entry{}, err
	}
	if w.Balance.LessThan(op.Amount) {
		return w, Entry{}, fmt.Errorf("%w: wallet %s balance %s, requested %s",
			apperr.ErrInsufficientFunds, w.ID, w.Balance, op.Amount)
	}
	return apply(w, op.Amount.Neg(), now), entryFor(w, EntryExpense, op.Amount.Neg(), op, now), nil
}

func apply(w Wallet, delta money.Money, now time.Time) Wallet {
	w.Balance = w.Balance.Add(delta).Round()
	w.Version++
	w.UpdatedAt = now.UTC()
	return w
}

func entryFor(w Wallet, typ EntryType, delta money.Money, op Op, now time.Time) Entry {
	return Entry{
		ID:          ids.Prefixed("ent"),
		WalletID:    w.ID,
		Type:        typ,
		Amount:      delta,
		Balance:     w.Balance.Add(delta).Round(),
		Description: op.Description,
		Actor:       op.Actor,
		Reference:   op.Reference,
		CreatedAt:   now.UTC(),
	}
}

// Sum returns the signed total of entries.
func Sum(entries []Entry) money.Money {
	total := money.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Verify checks that w's balance equals the sum of its history.
func Verify(w Wallet, entries []Entry) error {
	for _, e := range entries {
		if e.WalletID != w.ID {
			return fmt.Errorf("%w: entry %s belongs to wallet %s, not %s", apperr.ErrInternal, e.ID, e.WalletID, w.ID)
		}
	}
	if sum := Sum(entries); !sum.Equal(w.Balance) {
		return fmt.Errorf("%w: wallet %s balance %s does not match ledger sum %s", apperr.ErrInternal, w.ID, w.Balance, sum)
	}
	return nil
}
