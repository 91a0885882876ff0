package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/audit"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ids"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/money"
	"villagepay.org/internal/obs"
	"villagepay.org/internal/stream"
)

// PaymentRequest is one payment against a statement.
type PaymentRequest struct {
	StatementID string
	Type        billing.TransactionType
	Purpose     billing.Purpose
	Method      billing.Method
	Amount      money.Money
	InitiatedBy string
	ReceiptURL  string
	// CreatedAt is the client's timestamp. Zero means now.
	CreatedAt time.Time
}

func (r PaymentRequest) validate() (PaymentRequest, error) {
	r.StatementID = strings.TrimSpace(r.StatementID)
	r.InitiatedBy = strings.TrimSpace(r.InitiatedBy)
	r.ReceiptURL = strings.TrimSpace(r.ReceiptURL)
	if r.StatementID == "" {
		return r, fmt.Errorf("%w: statement id is required", apperr.ErrValidation)
	}
	if r.InitiatedBy == "" {
		return r, fmt.Errorf("%w: initiating user is required", apperr.ErrValidation)
	}
	var err error
	if r.Type, err = billing.ParseTransactionType(string(r.Type)); err != nil {
		return r, err
	}
	if r.Purpose, err = billing.ParsePurpose(string(r.Purpose)); err != nil {
		return r, err
	}
	if r.Method, err = billing.ParseMethod(string(r.Method)); err != nil {
		return r, err
	}
	if !r.Amount.IsPositive() {
		return r, fmt.Errorf("%w: amount must be > 0", apperr.ErrValidation)
	}
	r.Amount = r.Amount.Round()
	if r.Amount.IsZero() {
		return r, fmt.Errorf("%w: amount rounds to zero", apperr.ErrValidation)
	}
	if r.Type == billing.TypeAdvance && r.Method == billing.MethodEWallet {
		return r, fmt.Errorf("%w: advance payments cannot be made from the e-wallet", apperr.ErrValidation)
	}
	return r, nil
}

// PaymentResult is the committed outcome of RecordPayment or UpdateTransactionStatus.
type PaymentResult struct {
	Statement   billing.Statement   `json:"statement"`
	Transaction billing.Transaction `json:"transaction"`
	Evaluation  billing.Evaluation  `json:"evaluation"`
	// Effects is set when this operation completed the statement's settlement.
	Effects *billing.Effects `json:"effects,omitempty"`
	Entries []ledger.Entry   `json:"entries,omitempty"`
}

// RecordPayment allocates a payment against its statement and records it.
//
// E-Wallet payments debit the payer's homeowner wallet, credit the village wallet
// and complete immediately. Other methods stay pending until reviewed. The statement
// is re-evaluated and, if its settlement completes, settlement effects are applied
// in the same unit of work.
func (e *Engine) RecordPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	req, err := req.validate()
	if err != nil {
		// Purpose and method are still raw client input here.
		obs.RecordPayment(obs.LabelInvalid, obs.LabelInvalid, apperr.Kind(err))
		return PaymentResult{}, err
	}

	keys, err := e.statementKeys(ctx, req.StatementID, req.InitiatedBy)
	if err != nil {
		obs.RecordPayment(string(req.Purpose), string(req.Method), apperr.Kind(err))
		return PaymentResult{}, err
	}

	var res PaymentResult
	err = e.run(ctx, "record_payment", keys, func(tx Tx) error {
		res = PaymentResult{}
		now := e.clock()

		st, err := tx.Statement(ctx, req.StatementID)
		if err != nil {
			return err
		}
		if st.Archived() {
			return fmt.Errorf("%w: statement %s is archived", apperr.ErrValidation, st.ID)
		}
		alloc, err := billing.Allocate(st, req.Purpose, req.Amount)
		if err != nil {
			return err
		}
		if !alloc.Unallocated.IsZero() {
			obs.Warn("payment_unallocated", map[string]any{
				"statement_id": st.ID,
				"amount":       req.Amount.String(),
				"unallocated":  alloc.Unallocated.String(),
			})
		}

		created := req.CreatedAt
		if created.IsZero() {
			created = now
		}
		txn := billing.Transaction{
			ID:          ids.Prefixed("txn"),
			StatementID: st.ID,
			PropertyID:  st.PropertyID,
			InitiatedBy: req.InitiatedBy,
			Type:        req.Type,
			Purpose:     req.Purpose,
			Method:      req.Method,
			Amount:      req.Amount,
			Applied:     alloc.Applied,
			Status:      billing.TxPending,
			ReceiptURL:  req.ReceiptURL,
			CreatedAt:   created.UTC(),
			UpdatedAt:   now,
		}

		if req.Method == billing.MethodEWallet {
			entries, err := e.walletPayment(ctx, tx, txn, now)
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entries...)
			txn.Status = billing.TxCompleted
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		st.Paid = alloc.Paid
		st.TotalPaid = st.TotalPaid.Add(req.Amount).Round()
		out, err := e.settle(ctx, tx, st, txn, now)
		if err != nil {
			return err
		}
		out.Entries = append(res.Entries, out.Entries...)
		res = out
		return nil
	})

	obs.RecordPayment(string(req.Purpose), string(req.Method), apperr.Kind(err))
	if err != nil {
		return PaymentResult{}, err
	}

	audit.Record(ctx, audit.PaymentRecorded, map[string]any{
		"statement_id":   res.Statement.ID,
		"transaction_id": res.Transaction.ID,
		"purpose":        string(res.Transaction.Purpose),
		"method":         string(res.Transaction.Method),
		"type":           string(res.Transaction.Type),
		"amount":         res.Transaction.Amount.String(),
		"status":         string(res.Transaction.Status),
	})
	e.afterSettle(ctx, res)
	return res, nil
}

// walletPayment moves an e-wallet payment from the payer's wallet to the village wallet.
func (e *Engine) walletPayment(ctx context.Context, tx Tx, txn billing.Transaction, now time.Time) ([]ledger.Entry, error) {
	payer, err := tx.WalletByOwner(ctx, txn.InitiatedBy)
	if err != nil {
		return nil, err
	}
	village, err := tx.Wallet(ctx, e.villageID)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("%s payment for statement %s", txn.Purpose, txn.StatementID)

	payer, debit, err := ledger.Spend(payer, ledger.Op{Amount: txn.Amount, Description: desc, Actor: txn.InitiatedBy, Reference: txn.ID}, now)
	if err != nil {
		return nil, err
	}
	village, credit, err := ledger.Deposit(village, ledger.Op{Amount: txn.Amount, Description: desc, Actor: txn.InitiatedBy, Reference: txn.ID}, now)
	if err != nil {
		return nil, err
	}
	for _, w := range []ledger.Wallet{payer, village} {
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return nil, err
		}
	}
	for _, en := range []ledger.Entry{debit, credit} {
		if err := tx.AppendEntry(ctx, en); err != nil {
			return nil, err
		}
	}
	return []ledger.Entry{debit, credit}, nil
}

// UpdateTransactionStatus reviews a pending transaction. Rejection requires a reason
// and takes the transaction's allocation back off its statement.
func (e *Engine) UpdateTransactionStatus(ctx context.Context, id string, to billing.TransactionStatus, reason, actor string) (PaymentResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return PaymentResult{}, fmt.Errorf("%w: transaction id is required", apperr.ErrValidation)
	}
	lookupCtx, cancel := e.withTimeout(ctx)
	current, err := e.store.GetTransaction(lookupCtx, id)
	cancel()
	if err != nil {
		return PaymentResult{}, classify("update_transaction_status", err)
	}
	keys, err := e.statementKeys(ctx, current.StatementID, "")
	if err != nil {
		return PaymentResult{}, err
	}

	var res PaymentResult
	err = e.run(ctx, "update_transaction_status", keys, func(tx Tx) error {
		res = PaymentResult{}
		now := e.clock()

		t, err := tx.Transaction(ctx, id)
		if err != nil {
			return err
		}
		next, err := t.Transition(to, reason)
		if err != nil {
			return err
		}
		next.UpdatedAt = now
		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return err
		}

		st, err := tx.Statement(ctx, t.StatementID)
		if err != nil {
			return err
		}
		if next.Status == billing.TxRejected {
			st.Paid = st.Paid.Sub(t.Applied).Round()
			st.TotalPaid = st.TotalPaid.Sub(t.Amount).Round()
		}
		res, err = e.settle(ctx, tx, st, next, now)
		return err
	})
	if err != nil {
		return PaymentResult{}, err
	}

	audit.Record(ctx, audit.TransactionReviewed, map[string]any{
		"transaction_id": id,
		"statement_id":   res.Statement.ID,
		"status":         string(res.Transaction.Status),
		"reason":         res.Transaction.Reason,
		"actor":          actor,
	})
	e.afterSettle(ctx, res)
	return res, nil
}

// ListTransactions returns transactions matching f, oldest first.
func (e *Engine) ListTransactions(ctx context.Context, f TxFilter) ([]billing.Transaction, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	txs, err := e.store.ListTransactions(ctx, f)
	return txs, classify("list_transactions", err)
}

// settle evaluates st against its transactions, applies settlement effects when it
// completes now, and saves it. trigger is the transaction that caused the change.
func (e *Engine) settle(ctx context.Context, tx Tx, st billing.Statement, trigger billing.Transaction, now time.Time) (PaymentResult, error) {
	txs, err := tx.StatementTransactions(ctx, st.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	prev := st.SettlementStatus
	ev := billing.Evaluate(st, txs)
	if ev.Held {
		obs.Warn("settlement_revert_ignored", map[string]any{
			"statement_id":   st.ID,
			"transaction_id": trigger.ID,
			"payment_status": string(ev.Payment),
			"total_paid":     st.TotalPaid.String(),
			"completed_sum":  ev.CompletedSum.String(),
		})
	}
	st = ev.Apply(st)

	res := PaymentResult{Transaction: trigger, Evaluation: ev}
	if ev.Transitioned(prev) {
		eff := billing.SettlementEffects(st, txs)
		entries, err := e.applyEffects(ctx, tx, st, eff, trigger, now)
		if err != nil {
			return PaymentResult{}, err
		}
		res.Effects = &eff
		res.Entries = entries
	}

	st.UpdatedAt = now
	st.Version++
	if err := tx.UpdateStatement(ctx, st); err != nil {
		return PaymentResult{}, err
	}
	res.Statement = st
	return res, nil
}

// applyEffects credits the village wallet with the settled dues and returns any
// advance-payment excess to the statement owner's wallet, creating it if needed.
func (e *Engine) applyEffects(ctx context.Context, tx Tx, st billing.Statement, eff billing.Effects, trigger billing.Transaction, now time.Time) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	if eff.VillageCredit.IsPositive() {
		village, err := tx.Wallet(ctx, e.villageID)
		if err != nil {
			return nil, err
		}
		village, en, err := ledger.Deposit(village, ledger.Op{
			Amount:      eff.VillageCredit,
			Description: fmt.Sprintf("Settlement of statement %s (%s)", st.ID, st.Period.Label()),
			Actor:       trigger.InitiatedBy,
			Reference:   st.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateWallet(ctx, village); err != nil {
			return nil, err
		}
		if err := tx.AppendEntry(ctx, en); err != nil {
			return nil, err
		}
		entries = append(entries, en)
	}

	if eff.OwnerCredit.IsPositive() {
		owner, err := tx.WalletByOwner(ctx, st.OwnerID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			owner, err = ledger.NewHomeownerWallet(st.OwnerID, billing.Breakdown{}, now)
			if err != nil {
				return nil, err
			}
			if err := tx.InsertWallet(ctx, owner); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		}
		owner, en, err := ledger.Deposit(owner, ledger.Op{
			Amount:      eff.OwnerCredit,
			Description: fmt.Sprintf("Advance payment excess from statement %s", st.ID),
			Actor:       trigger.InitiatedBy,
			Reference:   st.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateWallet(ctx, owner); err != nil {
			return nil, err
		}
		if err := tx.AppendEntry(ctx, en); err != nil {
			return nil, err
		}
		entries = append(entries, en)
	}
	return entries, nil
}

func (e *Engine) afterSettle(ctx context.Context, res PaymentResult) {
	e.publishStatement(stream.StatementUpdated, res.Statement)
	if res.Effects != nil {
		obs.RecordSettlementCompleted()
		audit.Record(ctx, audit.SettlementCompleted, map[string]any{
			"statement_id":   res.Statement.ID,
			"village_credit": res.Effects.VillageCredit.String(),
			"owner_credit":   res.Effects.OwnerCredit.String(),
		})
		e.publishStatement(stream.SettlementCompleted, res.Statement)
	}
	for _, en := range res.Entries {
		e.publishEntry(en)
	}
}

// statementKeys resolves the lock set for a unit of work on a statement: the
// statement, the village wallet, the owner's wallet and the payer's wallet.
func (e *Engine) statementKeys(ctx context.Context, statementID, payer string) ([]string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	st, err := e.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, classify("lookup_statement", err)
	}
	keys := []string{StatementKey(st.ID), WalletKey(e.villageID), OwnerKey(st.OwnerID)}
	if payer != "" && payer != st.OwnerID {
		keys = append(keys, OwnerKey(payer))
	}
	return keys, nil
}
