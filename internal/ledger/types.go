package ledger

import (
	"time"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/money"
)

// Kind distinguishes homeowner wallets from the shared village pool.
type Kind string

const (
	KindHomeowner Kind = "homeowner"
	KindVillage   Kind = "village"
)

// VillageWalletID is the fixed identifier of the village wallet singleton.
const VillageWalletID = "village"

// Wallet holds a running balance. Balance always equals the sum of the wallet's entries.
type Wallet struct {
	ID      string      `json:"id"`
	OwnerID string      `json:"owner_id,omitempty"` // homeowner wallets only
	Kind    Kind        `json:"kind"`
	Balance money.Money `json:"balance"`
	// Advance is the homeowner's standing advance payment per category.
	Advance   billing.Breakdown `json:"advance"`
	Version   int64             `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryCollect EntryType = "collect"
	EntryExpense EntryType = "expense"
)

// Entry is one immutable balance change. Amount is signed: collect entries are
// positive, expense entries negative.
type Entry struct {
	ID          string      `json:"id"`
	WalletID    string      `json:"wallet_id"`
	Type        EntryType   `json:"type"`
	Amount      money.Money `json:"amount"`
	Balance     money.Money `json:"balance_after"`
	Description string      `json:"description"`
	Actor       string      `json:"actor,omitempty"`
	// Reference points at what caused the entry, e.g. a transaction or statement id.
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
