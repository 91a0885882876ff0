package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/audit"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ids"
	"villagepay.org/internal/money"
	"villagepay.org/internal/stream"
)

// CreateStatement issues a statement for one property and period. A property has
// at most one non-archived statement per period.
func (e *Engine) CreateStatement(ctx context.Context, p billing.NewStatementParams) (billing.Statement, error) {
	st, err := billing.NewStatement(p, e.clock())
	if err != nil {
		return billing.Statement{}, err
	}
	st.ID = ids.Prefixed("stm")

	err = e.run(ctx, "create_statement", []string{PeriodKey(st.PropertyID, st.Period)}, func(tx Tx) error {
		existing, err := tx.StatementForPeriod(ctx, st.PropertyID, st.Period.Key())
		switch {
		case err == nil:
			return fmt.Errorf("%w: property %s already has statement %s for %s",
				apperr.ErrValidation, st.PropertyID, existing.ID, st.Period.Label())
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		return tx.InsertStatement(ctx, st)
	})
	if err != nil {
		return billing.Statement{}, err
	}

	audit.Record(ctx, audit.StatementCreated, map[string]any{
		"statement_id": st.ID,
		"property_id":  st.PropertyID,
		"owner_id":     st.OwnerID,
		"period":       st.Period.Key(),
		"total_due":    st.TotalDue.String(),
		"issued_by":    st.IssuedBy,
	})
	e.publishStatement(stream.StatementCreated, st)
	return st, nil
}

// GetStatement returns one statement.
func (e *Engine) GetStatement(ctx context.Context, id string) (billing.Statement, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if strings.TrimSpace(id) == "" {
		return billing.Statement{}, fmt.Errorf("%w: statement id is required", apperr.ErrValidation)
	}
	st, err := e.store.GetStatement(ctx, id)
	return st, classify("get_statement", err)
}

// ListStatements returns a property's statements ordered by period key, newest first.
// Archived statements are included only when includeArchived is set.
func (e *Engine) ListStatements(ctx context.Context, propertyID string, includeArchived bool) ([]billing.Statement, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	if strings.TrimSpace(propertyID) == "" {
		return nil, fmt.Errorf("%w: property id is required", apperr.ErrValidation)
	}
	list, err := e.store.ListStatements(ctx, propertyID)
	if err != nil {
		return nil, classify("list_statements", err)
	}
	out := list[:0]
	for _, st := range list {
		if includeArchived || !st.Archived() {
			out = append(out, st)
		}
	}
	return out, nil
}

// ArchiveStatement retires a statement from active billing. The record is kept.
// Archiving an archived statement returns it unchanged.
func (e *Engine) ArchiveStatement(ctx context.Context, id, actor string) (billing.Statement, error) {
	var (
		out     billing.Statement
		changed bool
	)
	err := e.run(ctx, "archive_statement", []string{StatementKey(id)}, func(tx Tx) error {
		st, err := tx.Statement(ctx, id)
		if err != nil {
			return err
		}
		if st.Archived() {
			out, changed = st, false
			return nil
		}
		now := e.clock()
		st.ArchivedAt = &now
		st.UpdatedAt = now
		st.Version++
		if err := tx.UpdateStatement(ctx, st); err != nil {
			return err
		}
		out, changed = st, true
		return nil
	})
	if err != nil {
		return billing.Statement{}, err
	}
	if changed {
		audit.Record(ctx, audit.StatementArchived, map[string]any{"statement_id": id, "actor": actor})
		e.publishStatement(stream.StatementUpdated, out)
	}
	return out, nil
}

// OutstandingTotal sums the total due of a property's non-archived statements
// that are not yet paid.
func (e *Engine) OutstandingTotal(ctx context.Context, propertyID string) (money.Money, error) {
	list, err := e.ListStatements(ctx, propertyID, false)
	if err != nil {
		return money.Zero, err
	}
	total := money.Zero
	for _, st := range list {
		if st.PaymentStatus.Outstanding() {
			total = total.Add(st.TotalDue)
		}
	}
	return total.Round(), nil
}

// SettlementView is a statement with its transactions and a fresh evaluation.
type SettlementView struct {
	Statement    billing.Statement     `json:"statement"`
	Evaluation   billing.Evaluation    `json:"evaluation"`
	Transactions []billing.Transaction `json:"transactions"`
}

// EvaluateStatement recomputes a statement's statuses from stored state without
// writing anything.
func (e *Engine) EvaluateStatement(ctx context.Context, id string) (SettlementView, error) {
	st, err := e.GetStatement(ctx, id)
	if err != nil {
		return SettlementView{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	txs, err := e.store.ListTransactions(ctx, TxFilter{StatementID: id})
	if err != nil {
		return SettlementView{}, classify("evaluate_statement", err)
	}
	return SettlementView{
		Statement:    st,
		Evaluation:   billing.Evaluate(st, txs),
		Transactions: txs,
	}, nil
}

func (e *Engine) publishStatement(typ string, st billing.Statement) {
	e.pub.Publish(stream.Event{
		Type:             typ,
		StatementID:      st.ID,
		PropertyID:       st.PropertyID,
		PaymentStatus:    string(st.PaymentStatus),
		SettlementStatus: string(st.SettlementStatus),
		TotalPaid:        st.TotalPaid.String(),
		Timestamp:        e.clock(),
	})
}
