package httpapi

import (
	"net/http"

	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
	"villagepay.org/internal/money"
)

type createWalletRequest struct {
	OwnerID string            `json:"owner_id"`
	Advance billing.Breakdown `json:"advance"`
}

type walletOpRequest struct {
	Amount      money.Money `json:"amount"`
	Description string      `json:"description"`
	Reference   string      `json:"reference"`
}

func (a *API) createWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, _ := caller(r)
	wallet, err := a.engine.CreateWallet(r.Context(), req.OwnerID, req.Advance, user)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := a.walletFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (a *API) walletEntries(w http.ResponseWriter, r *http.Request) {
	wallet, ok := a.walletFor(w, r)
	if !ok {
		return
	}
	a.writeEntries(w, r, wallet)
}

func (a *API) walletDeposit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := a.walletFor(w, r)
	if !ok {
		return
	}
	a.applyWalletOp(w, r, wallet.ID, false)
}

func (a *API) villageWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := a.engine.VillageWallet(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (a *API) villageEntries(w http.ResponseWriter, r *http.Request) {
	wallet, err := a.engine.VillageWallet(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.writeEntries(w, r, wallet)
}

func (a *API) villageDeposit(w http.ResponseWriter, r *http.Request) {
	a.applyWalletOp(w, r, a.engine.VillageWalletID(), false)
}

func (a *API) villageSpend(w http.ResponseWriter, r *http.Request) {
	a.applyWalletOp(w, r, a.engine.VillageWalletID(), true)
}

// walletFor resolves the {ownerID} wallet. Homeowners only reach their own.
func (a *API) walletFor(w http.ResponseWriter, r *http.Request) (ledger.Wallet, bool) {
	ownerID := r.PathValue("ownerID")
	if user, staff := caller(r); !staff && ownerID != user {
		writeError(w, r, http.StatusNotFound, "wallet not found")
		return ledger.Wallet{}, false
	}
	wallet, err := a.engine.Wallet(r.Context(), ownerID)
	if err != nil {
		handleError(w, r, err)
		return ledger.Wallet{}, false
	}
	return wallet, true
}

func (a *API) writeEntries(w http.ResponseWriter, r *http.Request, wallet ledger.Wallet) {
	entries, err := a.engine.WalletEntries(r.Context(), wallet.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet,
		"items":  entries,
	})
}

func (a *API) applyWalletOp(w http.ResponseWriter, r *http.Request, walletID string, spend bool) {
	var req walletOpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, _ := caller(r)
	op := ledger.Op{
		Amount:      req.Amount,
		Description: req.Description,
		Actor:       user,
		Reference:   req.Reference,
	}

	apply := a.engine.Deposit
	if spend {
		apply = a.engine.Spend
	}
	wallet, entry, err := apply(r.Context(), walletID, op)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet,
		"entry":  entry,
	})
}
