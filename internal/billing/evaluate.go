package billing

import "villagepay.org/internal/money"

// Evaluation is the derived status pair for a statement.
type Evaluation struct {
	Payment      PaymentStatus    `json:"payment_status"`
	Settlement   SettlementStatus `json:"settlement_status"`
	CompletedSum money.Money      `json:"completed_sum"`
	// Held is true when the inputs alone would put a completed settlement back to
	// pending. Settlement never reverts, so the completed status is kept.
	Held bool `json:"held,omitempty"`
}

// Transitioned reports whether this evaluation completes a settlement that was pending before.
func (e Evaluation) Transitioned(prev SettlementStatus) bool {
	return prev != SettlementCompleted && e.Settlement == SettlementCompleted
}

// Evaluate derives payment and settlement status for st from its paid breakdown,
// total paid and the transactions referencing it.
//
// Payment status is binary: paid only when every category is covered and total
// paid reaches the total due, pending otherwise. Settlement completes when the
// statement is paid and completed transactions cover both total paid and total due.
// A settlement that is already completed stays completed.
func Evaluate(st Statement, txs []Transaction) Evaluation {
	allCovered := true
	for _, c := range Categories {
		if st.Paid.Get(c).LessThan(st.Charges.Get(c)) {
			allCovered = false
			break
		}
	}

	ev := Evaluation{
		Payment:      PaymentPending,
		Settlement:   SettlementPending,
		CompletedSum: CompletedSum(st.ID, txs),
	}
	if allCovered && st.TotalPaid.GreaterOrEqual(st.TotalDue) {
		ev.Payment = PaymentPaid
	}
	if ev.Payment == PaymentPaid &&
		ev.CompletedSum.GreaterOrEqual(st.TotalPaid) &&
		ev.CompletedSum.GreaterOrEqual(st.TotalDue) {
		ev.Settlement = SettlementCompleted
	}

	if st.SettlementStatus == SettlementCompleted && ev.Settlement != SettlementCompleted {
		ev.Settlement = SettlementCompleted
		ev.Held = true
	}
	return ev
}

// Apply copies the evaluated statuses onto st.
func (e Evaluation) Apply(st Statement) Statement {
	st.PaymentStatus = e.Payment
	st.SettlementStatus = e.Settlement
	return st
}
