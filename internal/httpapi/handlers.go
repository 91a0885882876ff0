package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/auth"
	"villagepay.org/internal/obs"
	"villagepay.org/internal/settlement"
	"villagepay.org/internal/stream"
)

const serviceName = "villagepay-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the store backing the engine.
type ReadyProbe struct {
	Store pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Options tunes the middleware chain. Zero values select defaults.
type Options struct {
	RateBurst      int
	RatePerSecond  float64
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// API is the HTTP layer over the settlement engine.
type API struct {
	mux     *http.ServeMux
	engine  *settlement.Engine
	issuer  *auth.Issuer
	stream  *stream.Stream
	ready   readinessChecker
	version string
	opts    Options
}

func New(engine *settlement.Engine, issuer *auth.Issuer, st *stream.Stream, ready readinessChecker, version string, opts Options) *API {
	if opts.RateBurst < 1 {
		opts.RateBurst = 100
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 50
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if ready == nil {
		ready = ReadyProbe{}
	}
	a := &API{
		mux:     http.NewServeMux(),
		engine:  engine,
		issuer:  issuer,
		stream:  st,
		ready:   ready,
		version: version,
		opts:    opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	role := func(roles []string, h http.HandlerFunc) http.Handler {
		return RequireRole(roles...)(h)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// statements
	a.mux.Handle("POST /v1/properties/{propertyID}/statements", role(auth.StatementIssuers, a.createStatement))
	a.mux.Handle("GET /v1/properties/{propertyID}/statements", role(auth.AnyRole, a.listStatements))
	a.mux.Handle("GET /v1/properties/{propertyID}/outstanding", role(auth.AnyRole, a.outstanding))
	a.mux.Handle("GET /v1/statements/{id}", role(auth.AnyRole, a.getStatement))
	a.mux.Handle("POST /v1/statements/{id}/archive", role(auth.StatementArchivers, a.archiveStatement))
	a.mux.Handle("GET /v1/statements/{id}/settlement", role(auth.AnyRole, a.statementSettlement))
	a.mux.Handle("GET /v1/statements/{id}/export", role(auth.AnyRole, a.exportStatement))

	// payments
	a.mux.Handle("POST /v1/statements/{id}/payments", role(auth.AnyRole, a.recordPayment))
	a.mux.Handle("GET /v1/transactions", role(auth.AnyRole, a.listTransactions))
	a.mux.Handle("PUT /v1/transactions/{id}/status", role(auth.TransactionReviewer, a.updateTransactionStatus))

	// wallets
	a.mux.Handle("POST /v1/wallets", role(auth.WalletManagers, a.createWallet))
	a.mux.Handle("GET /v1/wallets/{ownerID}", role(auth.AnyRole, a.getWallet))
	a.mux.Handle("GET /v1/wallets/{ownerID}/entries", role(auth.AnyRole, a.walletEntries))
	a.mux.Handle("POST /v1/wallets/{ownerID}/deposit", role(auth.WalletManagers, a.walletDeposit))
	a.mux.Handle("GET /v1/village-wallet", role(auth.WalletManagers, a.villageWallet))
	a.mux.Handle("GET /v1/village-wallet/entries", role(auth.WalletManagers, a.villageEntries))
	a.mux.Handle("POST /v1/village-wallet/deposit", role(auth.VillageTreasurers, a.villageDeposit))
	a.mux.Handle("POST /v1/village-wallet/spend", role(auth.VillageTreasurers, a.villageSpend))

	a.mux.Handle("GET /v1/stream", role(auth.AnyRole, a.Stream))
}

// Handler wraps the routes in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":              serviceName,
		"time":              time.Now().UTC().Format(time.RFC3339),
		"version":           a.version,
		"village_wallet_id": a.engine.VillageWalletID(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleError maps engine errors onto HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	payload := map[string]any{"error": err.Error(), "code": apperr.Kind(err)}
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeErrorPayload(w, r, http.StatusBadRequest, payload)
	case errors.Is(err, apperr.ErrNotFound):
		writeErrorPayload(w, r, http.StatusNotFound, payload)
	case errors.Is(err, apperr.ErrInsufficientFunds):
		writeErrorPayload(w, r, http.StatusConflict, payload)
	case errors.Is(err, apperr.ErrConflict):
		payload["retryable"] = true
		writeErrorPayload(w, r, http.StatusConflict, payload)
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeErrorPayload(w, r, http.StatusInternalServerError, map[string]any{"error": "internal error", "code": "internal"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
