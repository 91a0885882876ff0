package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
)

func seedWallet(t *testing.T, s *InMemory) ledger.Wallet {
	t.Helper()
	w := ledger.NewVillageWallet("", time.Now())
	require.NoError(t, s.Atomically(context.Background(), nil, func(tx Tx) error {
		return tx.InsertWallet(context.Background(), w)
	}))
	return w
}

func TestInMemoryDetectsStaleUpdate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := seedWallet(t, s)

	// different lock keys on purpose: the version check must still catch the race
	err := s.Atomically(ctx, []string{"a"}, func(tx Tx) error {
		cur, err := tx.Wallet(ctx, w.ID)
		if err != nil {
			return err
		}
		inner := s.Atomically(ctx, []string{"b"}, func(tx2 Tx) error {
			other, err := tx2.Wallet(ctx, w.ID)
			if err != nil {
				return err
			}
			other, _, err = ledger.Deposit(other, ledger.Op{Amount: m("5"), Description: "other"}, time.Now())
			if err != nil {
				return err
			}
			return tx2.UpdateWallet(ctx, other)
		})
		require.NoError(t, inner)

		cur, _, err = ledger.Deposit(cur, ledger.Op{Amount: m("7"), Description: "stale"}, time.Now())
		if err != nil {
			return err
		}
		return tx.UpdateWallet(ctx, cur)
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	got, err := s.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.Balance.String())
}

func TestInMemoryCommitValidatesReads(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := seedWallet(t, s)

	err := s.Atomically(ctx, []string{"a"}, func(tx Tx) error {
		if _, err := tx.Wallet(ctx, w.ID); err != nil {
			return err
		}
		require.NoError(t, s.Atomically(ctx, []string{"b"}, func(tx2 Tx) error {
			cur, _ := tx2.Wallet(ctx, w.ID)
			cur, _, _ = ledger.Deposit(cur, ledger.Op{Amount: m("1"), Description: "x"}, time.Now())
			return tx2.UpdateWallet(ctx, cur)
		}))
		// only a dependent write, based on the stale read
		return tx.AppendEntry(ctx, ledger.Entry{ID: "ent_x", WalletID: w.ID, Amount: m("1")})
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	entries, err := s.ListEntries(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInMemoryRollsBackOnError(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	st := billing.Statement{ID: "stm_1", PropertyID: "p1", Version: 1}
	err := s.Atomically(ctx, []string{StatementKey(st.ID)}, func(tx Tx) error {
		if err := tx.InsertStatement(ctx, st); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetStatement(ctx, st.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestInMemoryReadsOwnWrites(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	period, err := billing.ParsePeriod("May 2025")
	require.NoError(t, err)

	err = s.Atomically(ctx, nil, func(tx Tx) error {
		st := billing.Statement{ID: "stm_1", PropertyID: "p1", Period: period, Version: 1}
		require.NoError(t, tx.InsertStatement(ctx, st))
		require.NoError(t, tx.InsertTransaction(ctx, billing.Transaction{ID: "txn_1", StatementID: st.ID, Amount: m("3")}))

		got, err := tx.StatementForPeriod(ctx, "p1", "2025-05")
		require.NoError(t, err)
		assert.Equal(t, "stm_1", got.ID)

		txs, err := tx.StatementTransactions(ctx, st.ID)
		require.NoError(t, err)
		assert.Len(t, txs, 1)

		st.Version = 2
		return tx.UpdateStatement(ctx, st)
	})
	require.NoError(t, err)

	got, err := s.GetStatement(ctx, "stm_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestInMemoryUniquePeriodAndOwner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	period, _ := billing.ParsePeriod("May 2025")

	insert := func(id string) error {
		return s.Atomically(ctx, nil, func(tx Tx) error {
			return tx.InsertStatement(ctx, billing.Statement{ID: id, PropertyID: "p1", Period: period, Version: 1})
		})
	}
	require.NoError(t, insert("stm_1"))
	assert.True(t, errors.Is(insert("stm_2"), apperr.ErrConflict))

	wallet := func() error {
		w, err := ledger.NewHomeownerWallet("owner-1", billing.Breakdown{}, time.Now())
		require.NoError(t, err)
		return s.Atomically(ctx, nil, func(tx Tx) error { return tx.InsertWallet(ctx, w) })
	}
	require.NoError(t, wallet())
	assert.True(t, errors.Is(wallet(), apperr.ErrConflict))
}

func TestKeyLocksRespectContext(t *testing.T) {
	locks := newKeyLocks()
	release, err := locks.acquire(context.Background(), []string{"b", "a", "b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, []string{"c", "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := locks.acquire(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	release2()
	assert.Empty(t, locks.locks)
}
