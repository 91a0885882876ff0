package billing

import (
	"fmt"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/money"
)

// Purpose names what a payment is for.
type Purpose string

const (
	PurposeWater   Purpose = "Water Bill"
	PurposeHOA     Purpose = "HOA Maintenance Fees"
	PurposeGarbage Purpose = "Garbage"
	PurposeAll     Purpose = "All"
)

// ParsePurpose accepts the exact purpose labels used by clients.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.TrimSpace(s)); p {
	case PurposeWater, PurposeHOA, PurposeGarbage, PurposeAll:
		return p, nil
	}
	return "", fmt.Errorf("%w: unrecognized payment purpose %q", apperr.ErrValidation, s)
}

// Category returns the single category a purpose targets. ok is false for PurposeAll.
func (p Purpose) Category() (c Category, ok bool) {
	switch p {
	case PurposeWater:
		return CategoryWater, true
	case PurposeHOA:
		return CategoryHOA, true
	case PurposeGarbage:
		return CategoryGarbage, true
	}
	return "", false
}

type TransactionType string

const (
	TypeRegular TransactionType = "Regular Payment"
	TypeAdvance TransactionType = "Advance Payment"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.TrimSpace(s)); t {
	case TypeRegular, TypeAdvance:
		return t, nil
	case "Advanced Payment":
		return TypeAdvance, nil
	}
	return "", fmt.Errorf("%w: unrecognized transaction type %q", apperr.ErrValidation, s)
}

type Method string

const (
	MethodCash         Method = "Cash"
	MethodEWallet      Method = "E-Wallet"
	MethodBankTransfer Method = "Bank Transfer"
	MethodOnline       Method = "Online"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.TrimSpace(s)); m {
	case MethodCash, MethodEWallet, MethodBankTransfer, MethodOnline:
		return m, nil
	}
	return "", fmt.Errorf("%w: unrecognized payment method %q", apperr.ErrValidation, s)
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRejected  TransactionStatus = "rejected"
)

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TxPending, TxCompleted, TxRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unrecognized transaction status %q", apperr.ErrValidation, s)
}

// Transaction is one payment against a statement. Amount and Applied never change
// after creation; only Status and Reason do.
type Transaction struct {
	ID          string            `json:"id"`
	StatementID string            `json:"statement_id"`
	PropertyID  string            `json:"property_id"`
	InitiatedBy string            `json:"initiated_by"`
	Type        TransactionType   `json:"type"`
	Purpose     Purpose           `json:"purpose"`
	Method      Method            `json:"method"`
	Amount      money.Money       `json:"amount"`
	Applied     Breakdown         `json:"applied"`
	Status      TransactionStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	ReceiptURL  string            `json:"receipt_url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Transition validates a status change. Only pending transactions may move,
// and a rejection needs a reason.
func (t Transaction) Transition(to TransactionStatus, reason string) (Transaction, error) {
	reason = strings.TrimSpace(reason)
	if t.Status != TxPending {
		return t, fmt.Errorf("%w: transaction %s is %s and can no longer change", apperr.ErrValidation, t.ID, t.Status)
	}
	switch to {
	case TxCompleted:
	case TxRejected:
		if reason == "" {
			return t, fmt.Errorf("%w: a rejection reason is required", apperr.ErrValidation)
		}
	default:
		return t, fmt.Errorf("%w: cannot move transaction to %s", apperr.ErrValidation, to)
	}
	t.Status = to
	t.Reason = reason
	return t, nil
}

// CompletedSum adds the amounts of completed transactions referencing statementID.
func CompletedSum(statementID string, txs []Transaction) money.Money {
	total := money.Zero
	for _, tx := range txs {
		if tx.StatementID == statementID && tx.Status == TxCompleted {
			total = total.Add(tx.Amount)
		}
	}
	return total
}
