// Package pg is the PostgreSQL implementation of settlement.Store.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/settlement"
)

// Migrations holds the schema, applied by internal/migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

type Store struct {
	db *sql.DB
}

var _ settlement.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return mapErr(s.db.PingContext(ctx)) }

func (s *Store) GetStatement(ctx context.Context, id string) (billing.Statement, error) {
	st, err := scanStatement(s.db.QueryRowContext(ctx, `select `+statementColumns+` from statements where id = $1`, id))
	if err != nil {
		return billing.Statement{}, notFoundOr(err, "statement", id)
	}
	return st, nil
}

func (s *Store) ListStatements(ctx context.Context, propertyID string) ([]billing.Statement, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+statementColumns+`
		from statements
		where property_id = $1
		order by period_key desc, created_at desc
	`, propertyID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []billing.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (billing.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `select `+transactionColumns+` from transactions where id = $1`, id))
	if err != nil {
		return billing.Transaction{}, notFoundOr(err, "transaction", id)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, f settlement.TxFilter) ([]billing.Transaction, error) {
	query, args := transactionQuery(f)
	return queryTransactions(ctx, s.db, query, args...)
}

func (s *Store) GetWallet(ctx context.Context, id string) (ledger.Wallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, `select `+walletColumns+` from wallets where id = $1`, id))
	if err != nil {
		return ledger.Wallet{}, notFoundOr(err, "wallet", id)
	}
	return w, nil
}

func (s *Store) WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, `select `+walletColumns+` from wallets where owner_id = $1`, ownerID))
	if err != nil {
		return ledger.Wallet{}, notFoundOr(err, "wallet for owner", ownerID)
	}
	return w, nil
}

func (s *Store) ListEntries(ctx context.Context, walletID string) ([]ledger.Entry, error) {
	var one int
	if err := s.db.QueryRowContext(ctx, `select 1 from wallets where id = $1`, walletID).Scan(&one); err != nil {
		return nil, notFoundOr(err, "wallet", walletID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+`
		from wallet_entries
		where wallet_id = $1
		order by seq asc
	`, walletID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// Atomically runs fn in one serializable transaction. Keys become transaction-scoped
// advisory locks taken in sorted order, so units of work on the same statement or
// wallet queue up instead of failing serialization.
func (s *Store) Atomically(ctx context.Context, keys []string, fn func(settlement.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range lockOrder(keys) {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return mapErr(err)
		}
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

// --- helpers ---

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transactionQuery(f settlement.TxFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("initiated_by", f.UserID)
	add("statement_id", f.StatementID)
	add("property_id", f.PropertyID)
	add("status", string(f.Status))

	query := `select ` + transactionColumns + ` from transactions`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	return query + ` order by seq asc`, args
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]billing.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []billing.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func lockOrder(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	uniq := out[:0]
	for i, k := range out {
		if i == 0 || k != out[i-1] {
			uniq = append(uniq, k)
		}
	}
	return uniq
}

func stale(kind, id string, version int64) error {
	return fmt.Errorf("%w: %s %s is not at version %d", apperr.ErrConflict, kind, id, version)
}
