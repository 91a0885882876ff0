package httpapi

import (
	"net/http"
	"strings"
	"time"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/money"
	"villagepay.org/internal/settlement"
)

type paymentRequest struct {
	Type        string      `json:"type"`
	Purpose     string      `json:"purpose"`
	Method      string      `json:"method"`
	Amount      money.Money `json:"amount"`
	ReceiptURL  string      `json:"receipt_url"`
	InitiatedBy string      `json:"initiated_by"`
	CreatedAt   *time.Time  `json:"created_at"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// recordPayment lets homeowners pay their own statements. Staff record payments on a
// homeowner's behalf; the payer defaults to the statement owner.
func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := a.statementFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	user, staff := caller(r)
	payer := strings.TrimSpace(req.InitiatedBy)
	switch {
	case !staff && payer != "" && payer != user:
		writeError(w, r, http.StatusForbidden, "homeowners pay as themselves")
		return
	case !staff:
		payer = user
	case payer == "":
		payer = st.OwnerID
	}

	pr := settlement.PaymentRequest{
		StatementID: st.ID,
		Type:        billing.TransactionType(req.Type),
		Purpose:     billing.Purpose(req.Purpose),
		Method:      billing.Method(req.Method),
		Amount:      req.Amount,
		InitiatedBy: payer,
		ReceiptURL:  req.ReceiptURL,
	}
	if pr.Type == "" {
		pr.Type = billing.TypeRegular
	}
	if req.CreatedAt != nil {
		pr.CreatedAt = *req.CreatedAt
	}

	res, err := a.engine.RecordPayment(r.Context(), pr)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := settlement.TxFilter{
		UserID:      strings.TrimSpace(q.Get("user_id")),
		StatementID: strings.TrimSpace(q.Get("statement_id")),
		PropertyID:  strings.TrimSpace(q.Get("property_id")),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := billing.ParseTransactionStatus(raw)
		if err != nil {
			handleError(w, r, err)
			return
		}
		f.Status = status
	}
	if user, staff := caller(r); !staff {
		if f.UserID != "" && f.UserID != user {
			writeError(w, r, http.StatusForbidden, "homeowners can only list their own transactions")
			return
		}
		f.UserID = user
	}

	items, err := a.engine.ListTransactions(r.Context(), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []billing.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) updateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status, err := billing.ParseTransactionStatus(req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	user, _ := caller(r)
	res, err := a.engine.UpdateTransactionStatus(r.Context(), r.PathValue("id"), status, req.Reason, user)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
