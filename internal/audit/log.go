package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"villagepay.org/internal/auth"
	"villagepay.org/internal/obs"
)

// Events emitted by the settlement engine.
const (
	StatementCreated     = "statement.created"
	StatementArchived    = "statement.archived"
	PaymentRecorded      = "payment.recorded"
	TransactionReviewed  = "transaction.reviewed"
	SettlementCompleted  = "settlement.completed"
	WalletCreated        = "wallet.created"
	WalletDeposit        = "wallet.deposit"
	WalletSpend          = "wallet.spend"
	VillageWalletEnsured = "wallet.village_ensured"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Record is LogEvent for call sites that cannot act on a failure. Failures are
// reported on the service log instead.
func Record(ctx context.Context, event string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.Error("audit_failed", map[string]any{"event": event, "error": err.Error()})
	}
}
