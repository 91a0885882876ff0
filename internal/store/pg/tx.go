package pg

import (
	"context"
	"database/sql"
	"fmt"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
)

// pgTx reads rows "for update" so that everything a unit of work decides on stays
// fixed until it commits. Updates are additionally guarded by the version column.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Statement(ctx context.Context, id string) (billing.Statement, error) {
	st, err := scanStatement(t.tx.QueryRowContext(ctx, `select `+statementColumns+` from statements where id = $1 for update`, id))
	if err != nil {
		return billing.Statement{}, notFoundOr(err, "statement", id)
	}
	return st, nil
}

func (t *pgTx) StatementForPeriod(ctx context.Context, propertyID, periodKey string) (billing.Statement, error) {
	st, err := scanStatement(t.tx.QueryRowContext(ctx, `
		select `+statementColumns+`
		from statements
		where property_id = $1 and period_key = $2 and archived_at is null
		for update
	`, propertyID, periodKey))
	if err != nil {
		return billing.Statement{}, notFoundOr(err, "statement for period", periodKey)
	}
	return st, nil
}

func (t *pgTx) StatementTransactions(ctx context.Context, statementID string) ([]billing.Transaction, error) {
	return queryTransactions(ctx, t.tx, `
		select `+transactionColumns+`
		from transactions
		where statement_id = $1
		order by seq asc
	`, statementID)
}

func (t *pgTx) Transaction(ctx context.Context, id string) (billing.Transaction, error) {
	tx, err := scanTransaction(t.tx.QueryRowContext(ctx, `select `+transactionColumns+` from transactions where id = $1 for update`, id))
	if err != nil {
		return billing.Transaction{}, notFoundOr(err, "transaction", id)
	}
	return tx, nil
}

func (t *pgTx) Wallet(ctx context.Context, id string) (ledger.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx, `select `+walletColumns+` from wallets where id = $1 for update`, id))
	if err != nil {
		return ledger.Wallet{}, notFoundOr(err, "wallet", id)
	}
	return w, nil
}

func (t *pgTx) WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx, `select `+walletColumns+` from wallets where owner_id = $1 for update`, ownerID))
	if err != nil {
		return ledger.Wallet{}, notFoundOr(err, "wallet for owner", ownerID)
	}
	return w, nil
}

func (t *pgTx) InsertStatement(ctx context.Context, st billing.Statement) error {
	others, err := encodeOtherCharges(st.OtherCharges)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into statements (`+statementColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, st.ID, st.PropertyID, st.OwnerID, st.IssuedBy, st.IssuerRole, st.Period.Key(),
		st.Charges.Water, st.Charges.HOA, st.Charges.Garbage, others, st.TotalDue,
		st.Paid.Water, st.Paid.HOA, st.Paid.Garbage, st.TotalPaid, string(st.PaymentStatus), string(st.SettlementStatus),
		st.WaterReading, st.WaterConsumption, st.Version, st.CreatedAt, st.UpdatedAt, archivedAt(st))
	return mapErr(err)
}

func (t *pgTx) UpdateStatement(ctx context.Context, st billing.Statement) error {
	res, err := t.tx.ExecContext(ctx, `
		update statements
		set paid_water = $2, paid_hoa = $3, paid_garbage = $4, total_paid = $5,
			payment_status = $6, settlement_status = $7, version = $8, updated_at = $9, archived_at = $10
		where id = $1 and version = $11
	`, st.ID, st.Paid.Water, st.Paid.HOA, st.Paid.Garbage, st.TotalPaid,
		string(st.PaymentStatus), string(st.SettlementStatus), st.Version, st.UpdatedAt, archivedAt(st), st.Version-1)
	return expectOne(res, err, "statement", st.ID, st.Version-1)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx billing.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into transactions (`+transactionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, tx.ID, tx.StatementID, tx.PropertyID, tx.InitiatedBy, string(tx.Type), string(tx.Purpose), string(tx.Method), tx.Amount,
		tx.Applied.Water, tx.Applied.HOA, tx.Applied.Garbage, string(tx.Status), tx.Reason, tx.ReceiptURL,
		tx.CreatedAt, tx.UpdatedAt)
	return mapErr(err)
}

// UpdateTransaction writes the status fields only; amounts are immutable.
func (t *pgTx) UpdateTransaction(ctx context.Context, tx billing.Transaction) error {
	res, err := t.tx.ExecContext(ctx, `
		update transactions
		set status = $2, reason = $3, updated_at = $4
		where id = $1 and amount = $5
	`, tx.ID, string(tx.Status), tx.Reason, tx.UpdatedAt, tx.Amount)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s not found or amount changed", apperr.ErrValidation, tx.ID)
	}
	return nil
}

func (t *pgTx) InsertWallet(ctx context.Context, w ledger.Wallet) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into wallets (`+walletColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, w.ID, nullIfEmpty(w.OwnerID), string(w.Kind), w.Balance, w.Advance.Water, w.Advance.HOA, w.Advance.Garbage,
		w.Version, w.CreatedAt, w.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateWallet(ctx context.Context, w ledger.Wallet) error {
	res, err := t.tx.ExecContext(ctx, `
		update wallets
		set balance = $2, advance_water = $3, advance_hoa = $4, advance_garbage = $5, version = $6, updated_at = $7
		where id = $1 and version = $8
	`, w.ID, w.Balance, w.Advance.Water, w.Advance.HOA, w.Advance.Garbage, w.Version, w.UpdatedAt, w.Version-1)
	return expectOne(res, err, "wallet", w.ID, w.Version-1)
}

func (t *pgTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into wallet_entries (`+entryColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.WalletID, string(e.Type), e.Amount, e.Balance, e.Description, e.Actor, e.Reference, e.CreatedAt)
	return mapErr(err)
}

func archivedAt(st billing.Statement) sql.NullTime {
	if st.ArchivedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *st.ArchivedAt, Valid: true}
}

// expectOne turns a version-guarded update that matched nothing into a conflict.
func expectOne(res sql.Result, err error, kind, id string, version int64) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return stale(kind, id, version)
	}
	return nil
}
