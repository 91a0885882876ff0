package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/money"
	"villagepay.org/internal/settlement"
)

var statementCols = []string{
	"id", "property_id", "owner_id", "issued_by", "issuer_role", "period_key",
	"charges_water", "charges_hoa", "charges_garbage", "other_charges", "total_due",
	"paid_water", "paid_hoa", "paid_garbage", "total_paid", "payment_status", "settlement_status",
	"water_reading", "water_consumption", "version", "created_at", "updated_at", "archived_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGetStatementScansRow(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	archived := created.Add(24 * time.Hour)

	mock.ExpectQuery("select id, property_id.* from statements where id = \\$1").
		WithArgs("stm_1").
		WillReturnRows(sqlmock.NewRows(statementCols).AddRow(
			"stm_1", "p1", "owner-1", "officer-1", "officer", "2025-03",
			"500.00", "300.00", "100.00", []byte(`[{"name":"Streetlights","amount":"25.50"}]`), "925.50",
			"250.00", "150.00", "50.00", "450.00", "pending", "pending",
			"1204", "18", int64(2), created, created, archived,
		))

	st, err := s.GetStatement(context.Background(), "stm_1")
	if err != nil {
		t.Fatalf("GetStatement: %v", err)
	}
	if st.Period.Key() != "2025-03" || st.Period.Label() != "March 2025" {
		t.Fatalf("unexpected period %+v", st.Period)
	}
	if st.Charges.Water.String() != "500.00" || st.TotalDue.String() != "925.50" || st.Paid.HOA.String() != "150.00" {
		t.Fatalf("unexpected amounts %+v", st)
	}
	if len(st.OtherCharges) != 1 || st.OtherCharges[0].Amount.String() != "25.50" {
		t.Fatalf("unexpected other charges %+v", st.OtherCharges)
	}
	if st.PaymentStatus != billing.PaymentPending || st.Version != 2 {
		t.Fatalf("unexpected status/version %s/%d", st.PaymentStatus, st.Version)
	}
	if !st.Archived() || !st.ArchivedAt.Equal(archived) {
		t.Fatalf("expected archived_at %v, got %v", archived, st.ArchivedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetStatementNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from statements where id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.GetStatement(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAtomicallyLocksSortedKeysAndCommits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("owner:o1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("statement:s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into wallet_entries").
		WithArgs("ent_1", "wal_1", "collect", "10.00", "10.00", "top up", "admin-1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Atomically(context.Background(), []string{"statement:s1", "owner:o1", "statement:s1"}, func(tx settlement.Tx) error {
		return tx.AppendEntry(context.Background(), ledger.Entry{
			ID:          "ent_1",
			WalletID:    "wal_1",
			Type:        ledger.EntryCollect,
			Amount:      money.MustParse("10"),
			Balance:     money.MustParse("10"),
			Description: "top up",
			Actor:       "admin-1",
			CreatedAt:   time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatementStaleVersionConflicts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update statements").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), nil, func(tx settlement.Tx) error {
		return tx.UpdateStatement(context.Background(), billing.Statement{ID: "stm_1", Version: 3})
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSerializationFailureIsRetryable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnError(&pgconn.PgError{Code: pgErrSerialization, Message: "could not serialize access"})
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), []string{"statement:s1"}, func(settlement.Tx) error {
		t.Fatal("fn must not run when locking fails")
		return nil
	})
	if !apperr.Retryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
}

func TestAtomicallyKeepsDomainErrors(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), nil, func(settlement.Tx) error {
		return apperr.ErrInsufficientFunds
	})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestDuplicateOwnerWalletConflicts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into wallets").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, Message: "wallets_owner_id_key"})
	mock.ExpectRollback()

	err := s.Atomically(context.Background(), nil, func(tx settlement.Tx) error {
		return tx.InsertWallet(context.Background(), ledger.Wallet{ID: "wal_2", OwnerID: "o1", Kind: ledger.KindHomeowner, Version: 1})
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListTransactionsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "statement_id", "property_id", "initiated_by", "type", "purpose", "method", "amount",
		"applied_water", "applied_hoa", "applied_garbage", "status", "reason", "receipt_url", "created_at", "updated_at"}

	mock.ExpectQuery("from transactions where initiated_by = \\$1 and statement_id = \\$2 order by seq asc").
		WithArgs("owner-1", "stm_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"txn_1", "stm_1", "p1", "owner-1", "Regular Payment", "All", "Cash", "450.00",
			"250.00", "150.00", "50.00", "pending", "", "", created, created,
		))

	txs, err := s.ListTransactions(context.Background(), settlement.TxFilter{UserID: "owner-1", StatementID: "stm_1"})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.Purpose != billing.PurposeAll || tx.Method != billing.MethodCash || tx.Applied.Water.String() != "250.00" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestListEntriesUnknownWallet(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select 1 from wallets where id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.ListEntries(context.Background(), "nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := Migrations.ReadFile("migrations/0001_settlement.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if len(up) == 0 {
		t.Fatal("empty migration")
	}
	if _, err := Migrations.ReadFile("migrations/0001_settlement.down.sql"); err != nil {
		t.Fatalf("missing down migration: %v", err)
	}
}
