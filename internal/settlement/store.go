package settlement

import (
	"context"
	"sort"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
)

// TxFilter narrows ListTransactions. Empty fields match everything.
type TxFilter struct {
	UserID      string
	StatementID string
	PropertyID  string
	Status      billing.TransactionStatus
}

// Match reports whether tx passes the filter.
func (f TxFilter) Match(tx billing.Transaction) bool {
	switch {
	case f.UserID != "" && tx.InitiatedBy != f.UserID:
		return false
	case f.StatementID != "" && tx.StatementID != f.StatementID:
		return false
	case f.PropertyID != "" && tx.PropertyID != f.PropertyID:
		return false
	case f.Status != "" && tx.Status != f.Status:
		return false
	}
	return true
}

// Store persists statements, transactions and wallets.
//
// Reads outside Atomically see committed state only. Every write happens inside
// Atomically, whose callback either commits as a whole or not at all.
type Store interface {
	GetStatement(ctx context.Context, id string) (billing.Statement, error)
	// ListStatements returns a property's statements, newest period first.
	ListStatements(ctx context.Context, propertyID string) ([]billing.Statement, error)
	GetTransaction(ctx context.Context, id string) (billing.Transaction, error)
	// ListTransactions returns matching transactions, oldest first.
	ListTransactions(ctx context.Context, f TxFilter) ([]billing.Transaction, error)
	GetWallet(ctx context.Context, id string) (ledger.Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error)
	// ListEntries returns a wallet's history, oldest first.
	ListEntries(ctx context.Context, walletID string) ([]ledger.Entry, error)

	// Atomically runs fn as one unit of work holding the given lock keys. A stale
	// read detected at commit fails with apperr.ErrConflict.
	Atomically(ctx context.Context, keys []string, fn func(Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the read-modify-write view inside Atomically.
//
// Update methods take the record with its version already incremented and fail
// with apperr.ErrConflict unless the stored version is exactly one less.
type Tx interface {
	Statement(ctx context.Context, id string) (billing.Statement, error)
	// StatementForPeriod finds the non-archived statement of a property for a period key.
	StatementForPeriod(ctx context.Context, propertyID, periodKey string) (billing.Statement, error)
	StatementTransactions(ctx context.Context, statementID string) ([]billing.Transaction, error)
	Transaction(ctx context.Context, id string) (billing.Transaction, error)
	Wallet(ctx context.Context, id string) (ledger.Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error)

	InsertStatement(ctx context.Context, st billing.Statement) error
	UpdateStatement(ctx context.Context, st billing.Statement) error
	InsertTransaction(ctx context.Context, tx billing.Transaction) error
	UpdateTransaction(ctx context.Context, tx billing.Transaction) error
	InsertWallet(ctx context.Context, w ledger.Wallet) error
	UpdateWallet(ctx context.Context, w ledger.Wallet) error
	AppendEntry(ctx context.Context, e ledger.Entry) error
}

// Lock keys. A unit of work locks its statement plus every wallet it may touch.
// Homeowner wallets are locked by owner so that lookups by owner and by id agree.
func StatementKey(id string) string { return "statement:" + id }

func WalletKey(id string) string { return "wallet:" + id }

func OwnerKey(ownerID string) string { return "owner:" + ownerID }

func PeriodKey(propertyID string, p billing.Period) string {
	return "period:" + propertyID + "/" + p.Key()
}

// SortStatements orders statements newest period first, then newest created.
func SortStatements(list []billing.Statement) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Period != b.Period {
			return b.Period.Before(a.Period)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
