package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"villagepay.org/internal/auth"
	"villagepay.org/internal/settlement"
	"villagepay.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	issuer  *auth.Issuer
	stream  *stream.Stream
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	issuer, err := auth.NewIssuer("test-secret", "villagepay-test", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	st := stream.New()
	engine := settlement.New(settlement.NewInMemory(), settlement.Options{Publisher: st})
	if _, err := engine.EnsureVillageWallet(context.Background()); err != nil {
		t.Fatalf("ensure village wallet: %v", err)
	}

	api := New(engine, issuer, st, ReadyProbe{}, "test", Options{RateBurst: 1000, RatePerSecond: 1000})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		issuer:  issuer,
		stream:  st,
		t:       t,
	}
}

func (c *apiClient) token(user string, roles ...string) map[string]string {
	c.t.Helper()
	tok, err := c.issuer.GenerateToken(user, roles)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		r.Body.Close()
		t.Fatalf("expected %d, got %d (%v)", want, r.StatusCode, body)
	}
}

type statementBody struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	TotalDue         string `json:"total_amount_due"`
	TotalPaid        string `json:"total_paid"`
	PaymentStatus    string `json:"payment_status"`
	SettlementStatus string `json:"settlement_status"`
}

type paymentBody struct {
	Statement   statementBody `json:"statement"`
	Transaction struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"transaction"`
}

var marchCharges = map[string]any{
	"period":   "March 2025",
	"owner_id": "owner-1",
	"charges":  map[string]string{"water": "500.00", "hoa": "300.00", "garbage": "100.00"},
}

func TestAPIStatementSettlementFlow(t *testing.T) {
	api := newTestAPI(t)
	officer := api.token("officer-1", auth.RoleOfficer)
	owner := api.token("owner-1", auth.RoleHomeowner)
	stranger := api.token("owner-2", auth.RoleHomeowner)

	resp := api.post("/v1/properties/lot-7/statements", marchCharges, officer)
	expectStatus(t, resp, http.StatusCreated)
	st := decode[statementBody](t, resp)
	if st.ID == "" || st.TotalDue != "900.00" || st.PaymentStatus != "pending" {
		t.Fatalf("unexpected statement: %+v", st)
	}

	resp = api.post("/v1/properties/lot-7/statements", marchCharges, officer)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/properties/lot-7/statements", marchCharges, owner)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/statements/"+st.ID, nil, owner)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/statements/"+st.ID, nil, stranger)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.post("/v1/statements/"+st.ID+"/payments", map[string]any{
		"purpose": "All",
		"method":  "Cash",
		"amount":  "900.00",
	}, owner)
	expectStatus(t, resp, http.StatusCreated)
	paid := decode[paymentBody](t, resp)
	if paid.Statement.PaymentStatus != "paid" || paid.Statement.SettlementStatus != "pending" {
		t.Fatalf("unexpected statuses after payment: %+v", paid.Statement)
	}
	if paid.Transaction.Status != "pending" {
		t.Fatalf("cash payment should wait for review, got %s", paid.Transaction.Status)
	}

	resp = api.put("/v1/transactions/"+paid.Transaction.ID+"/status", map[string]any{"status": "completed"}, owner)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.put("/v1/transactions/"+paid.Transaction.ID+"/status", map[string]any{"status": "completed"}, officer)
	expectStatus(t, resp, http.StatusOK)
	done := decode[paymentBody](t, resp)
	if done.Statement.SettlementStatus != "completed" || done.Transaction.Status != "completed" {
		t.Fatalf("unexpected statuses after review: %+v", done)
	}

	resp = api.get("/v1/properties/lot-7/outstanding", nil, owner)
	expectStatus(t, resp, http.StatusOK)
	outstanding := decode[map[string]any](t, resp)
	if outstanding["outstanding"] != "0.00" {
		t.Fatalf("unexpected outstanding: %v", outstanding)
	}

	resp = api.get("/v1/transactions", url.Values{"user_id": []string{"owner-2"}}, owner)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/transactions", nil, owner)
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(list.Items))
	}

	resp = api.get("/v1/statements/"+st.ID+"/export", url.Values{"format": []string{"xlsx"}}, owner)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".xlsx") {
		t.Fatalf("unexpected Content-Disposition: %q", cd)
	}
}

func TestAPIPaymentValidation(t *testing.T) {
	api := newTestAPI(t)
	officer := api.token("officer-1", auth.RoleOfficer)
	owner := api.token("owner-1", auth.RoleHomeowner)

	resp := api.post("/v1/properties/lot-7/statements", marchCharges, officer)
	expectStatus(t, resp, http.StatusCreated)
	st := decode[statementBody](t, resp)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"zero amount", map[string]any{"purpose": "Garbage", "method": "Cash", "amount": "0"}, http.StatusBadRequest},
		{"unknown purpose", map[string]any{"purpose": "Parking", "method": "Cash", "amount": "10"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"purpose": "Garbage", "method": "Cash", "amount": "10", "tip": 1}, http.StatusBadRequest},
		{"paying as someone else", map[string]any{"purpose": "Garbage", "method": "Cash", "amount": "10", "initiated_by": "owner-2"}, http.StatusForbidden},
		{"e-wallet without wallet", map[string]any{"purpose": "Garbage", "method": "E-Wallet", "amount": "10"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/v1/statements/"+st.ID+"/payments", tc.body, owner)
			expectStatus(t, resp, tc.want)
			resp.Body.Close()
		})
	}
}

func TestAPIWallets(t *testing.T) {
	api := newTestAPI(t)
	admin := api.token("admin-1", auth.RoleAdmin)
	officer := api.token("officer-1", auth.RoleOfficer)
	owner := api.token("owner-1", auth.RoleHomeowner)

	resp := api.post("/v1/wallets", map[string]any{"owner_id": "owner-1"}, officer)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.post("/v1/wallets/owner-1/deposit", map[string]any{"amount": "250.00", "description": "top up"}, officer)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/wallets/owner-1", nil, owner)
	expectStatus(t, resp, http.StatusOK)
	wallet := decode[map[string]any](t, resp)
	if wallet["balance"] != "250.00" {
		t.Fatalf("unexpected balance: %v", wallet["balance"])
	}

	resp = api.get("/v1/wallets/owner-2", nil, owner)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/v1/wallets/owner-1/entries", nil, owner)
	expectStatus(t, resp, http.StatusOK)
	entries := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, resp)
	if len(entries.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries.Items))
	}

	resp = api.post("/v1/village-wallet/deposit", map[string]any{"amount": "100.00", "description": "dues"}, officer)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/v1/village-wallet/deposit", map[string]any{"amount": "100.00", "description": "dues"}, admin)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/village-wallet/spend", map[string]any{"amount": "150.00", "description": "street lights"}, admin)
	expectStatus(t, resp, http.StatusConflict)
	errBody := decode[map[string]any](t, resp)
	if errBody["code"] != "insufficient_funds" {
		t.Fatalf("unexpected error code: %v", errBody)
	}

	resp = api.get("/v1/village-wallet", nil, officer)
	expectStatus(t, resp, http.StatusOK)
	village := decode[map[string]any](t, resp)
	if village["balance"] != "100.00" {
		t.Fatalf("unexpected village balance: %v", village["balance"])
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/properties/lot-7/statements", marchCharges, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}

	resp = api.get("/v1/transactions", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	resp = api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
