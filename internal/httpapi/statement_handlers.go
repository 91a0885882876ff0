package httpapi

import (
	"net/http"
	"strconv"

	"villagepay.org/internal/auth"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/export"
	"villagepay.org/internal/settlement"
)

type createStatementRequest struct {
	OwnerID          string                `json:"owner_id"`
	Period           string                `json:"period"`
	Charges          billing.Breakdown     `json:"charges"`
	OtherCharges     []billing.OtherCharge `json:"other_charges"`
	WaterReading     string                `json:"water_reading"`
	WaterConsumption string                `json:"water_consumption"`
}

func (a *API) createStatement(w http.ResponseWriter, r *http.Request) {
	var req createStatementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, _ := caller(r)
	issuerRole := auth.RoleOfficer
	if auth.HasRole(r.Context(), auth.RoleAdmin) {
		issuerRole = auth.RoleAdmin
	}

	st, err := a.engine.CreateStatement(r.Context(), billing.NewStatementParams{
		PropertyID:       r.PathValue("propertyID"),
		OwnerID:          req.OwnerID,
		IssuedBy:         user,
		IssuerRole:       issuerRole,
		Period:           req.Period,
		Charges:          req.Charges,
		OtherCharges:     req.OtherCharges,
		WaterReading:     req.WaterReading,
		WaterConsumption: req.WaterConsumption,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/statements/"+st.ID)
	writeJSON(w, http.StatusCreated, st)
}

func (a *API) listStatements(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	list, err := a.engine.ListStatements(r.Context(), r.PathValue("propertyID"), includeArchived)
	if err != nil {
		handleError(w, r, err)
		return
	}
	user, staff := caller(r)
	items := make([]billing.Statement, 0, len(list))
	for _, st := range list {
		if staff || st.OwnerID == user {
			items = append(items, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) outstanding(w http.ResponseWriter, r *http.Request) {
	propertyID := r.PathValue("propertyID")
	if !a.canViewProperty(w, r, propertyID) {
		return
	}
	total, err := a.engine.OutstandingTotal(r.Context(), propertyID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"outstanding": total,
	})
}

func (a *API) getStatement(w http.ResponseWriter, r *http.Request) {
	st, ok := a.statementFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) archiveStatement(w http.ResponseWriter, r *http.Request) {
	user, _ := caller(r)
	st, err := a.engine.ArchiveStatement(r.Context(), r.PathValue("id"), user)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) statementSettlement(w http.ResponseWriter, r *http.Request) {
	st, ok := a.statementFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	view, err := a.engine.EvaluateStatement(r.Context(), st.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) exportStatement(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	st, ok := a.statementFor(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	txs, err := a.engine.ListTransactions(r.Context(), settlement.TxFilter{StatementID: st.ID})
	if err != nil {
		handleError(w, r, err)
		return
	}
	body, err := export.Render(format, st, txs)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(st)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// statementFor loads a statement the caller may see. Homeowners only see their own;
// anything else is reported as missing.
func (a *API) statementFor(w http.ResponseWriter, r *http.Request, id string) (billing.Statement, bool) {
	st, err := a.engine.GetStatement(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return billing.Statement{}, false
	}
	if user, staff := caller(r); !staff && st.OwnerID != user {
		writeError(w, r, http.StatusNotFound, "statement not found")
		return billing.Statement{}, false
	}
	return st, true
}

// canViewProperty lets staff through and homeowners who own a statement of the property.
func (a *API) canViewProperty(w http.ResponseWriter, r *http.Request, propertyID string) bool {
	user, staff := caller(r)
	if staff {
		return true
	}
	list, err := a.engine.ListStatements(r.Context(), propertyID, true)
	if err != nil {
		handleError(w, r, err)
		return false
	}
	for _, st := range list {
		if st.OwnerID == user {
			return true
		}
	}
	writeError(w, r, http.StatusNotFound, "property not found")
	return false
}
