package migrate

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text);\ninsert into a values ('x;y');")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
		"0002_more.up.sql":   {Data: []byte("-- second table; keeps ids\ncreate table b (id text);")},
		"0002_more.down.sql": {Data: []byte("drop table b;")},
		"README.md":          {Data: []byte("not sql")},
	}
}

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mgr, err := NewManager(db, testFS())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	return mgr, mock
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mgr, mock := newManager(t)
	mock.ExpectQuery("select version, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("0001_init", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WithArgs(lockName).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_more", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFailedVersion(t *testing.T) {
	mgr, mock := newManager(t)
	mock.ExpectQuery("select version, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table a").WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	err := mgr.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_init") {
		t.Fatalf("expected failure naming 0001_init, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsHighestApplied(t *testing.T) {
	mgr, mock := newManager(t)
	mock.ExpectQuery("select version, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
			AddRow("0002_more", time.Now()).AddRow("0001_init", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("select pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_more").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := mgr.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatusListsPendingVersions(t *testing.T) {
	mgr, mock := newManager(t)
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select version, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("0001_init", at))

	states, err := mgr.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %+v", states)
	}
	if states[0].AppliedAt == nil || !states[0].AppliedAt.Equal(at) || states[1].AppliedAt != nil {
		t.Fatalf("unexpected states %+v", states)
	}
	if got := states[1].String(); got != "0002_more\tpending" {
		t.Fatalf("unexpected status line %q", got)
	}
}

func TestLoadRequiresDownFile(t *testing.T) {
	fsys := testFS()
	delete(fsys, "0002_more.down.sql")
	if _, err := Load(fsys); err == nil {
		t.Fatal("expected error for a version without a down file")
	}
}

func TestSplitStatementsHandlesQuotesAndComments(t *testing.T) {
	stmts := splitStatements("-- header; ignored\ncreate table a (id text);\ninsert into a values ('x;y');\n;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "create table a (id text)" || stmts[1] != "insert into a values ('x;y')" {
		t.Fatalf("unexpected statements %q", stmts)
	}
}
