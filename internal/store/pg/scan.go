package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
)

const (
	statementColumns = `id, property_id, owner_id, issued_by, issuer_role, period_key,
		charges_water, charges_hoa, charges_garbage, other_charges, total_due,
		paid_water, paid_hoa, paid_garbage, total_paid, payment_status, settlement_status,
		water_reading, water_consumption, version, created_at, updated_at, archived_at`

	transactionColumns = `id, statement_id, property_id, initiated_by, type, purpose, method, amount,
		applied_water, applied_hoa, applied_garbage, status, reason, receipt_url, created_at, updated_at`

	walletColumns = `id, owner_id, kind, balance, advance_water, advance_hoa, advance_garbage,
		version, created_at, updated_at`

	entryColumns = `id, wallet_id, type, amount, balance_after, description, actor, reference, created_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (billing.Statement, error) {
	var (
		st        billing.Statement
		periodKey string
		others    []byte
		archived  sql.NullTime
	)
	err := row.Scan(&st.ID, &st.PropertyID, &st.OwnerID, &st.IssuedBy, &st.IssuerRole, &periodKey,
		&st.Charges.Water, &st.Charges.HOA, &st.Charges.Garbage, &others, &st.TotalDue,
		&st.Paid.Water, &st.Paid.HOA, &st.Paid.Garbage, &st.TotalPaid, &st.PaymentStatus, &st.SettlementStatus,
		&st.WaterReading, &st.WaterConsumption, &st.Version, &st.CreatedAt, &st.UpdatedAt, &archived)
	if err != nil {
		return billing.Statement{}, err
	}
	if st.Period, err = billing.ParsePeriod(periodKey); err != nil {
		return billing.Statement{}, fmt.Errorf("statement %s: %w", st.ID, err)
	}
	if len(others) > 0 {
		if err := json.Unmarshal(others, &st.OtherCharges); err != nil {
			return billing.Statement{}, fmt.Errorf("decode other charges: %w", err)
		}
	}
	if len(st.OtherCharges) == 0 {
		st.OtherCharges = nil
	}
	if archived.Valid {
		at := archived.Time.UTC()
		st.ArchivedAt = &at
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func encodeOtherCharges(list []billing.OtherCharge) ([]byte, error) {
	if list == nil {
		list = []billing.OtherCharge{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode other charges: %w", err)
	}
	return b, nil
}

func scanTransaction(row rowScanner) (billing.Transaction, error) {
	var tx billing.Transaction
	err := row.Scan(&tx.ID, &tx.StatementID, &tx.PropertyID, &tx.InitiatedBy, &tx.Type, &tx.Purpose, &tx.Method, &tx.Amount,
		&tx.Applied.Water, &tx.Applied.HOA, &tx.Applied.Garbage, &tx.Status, &tx.Reason, &tx.ReceiptURL,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return billing.Transaction{}, err
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}

func scanWallet(row rowScanner) (ledger.Wallet, error) {
	var (
		w     ledger.Wallet
		owner sql.NullString
	)
	err := row.Scan(&w.ID, &owner, &w.Kind, &w.Balance, &w.Advance.Water, &w.Advance.HOA, &w.Advance.Garbage,
		&w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return ledger.Wallet{}, err
	}
	w.OwnerID = owner.String
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.Balance, &e.Description, &e.Actor, &e.Reference, &e.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
