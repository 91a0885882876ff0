package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service passes its readiness probe.",
	})
)

// Engine metrics
var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villagepay_payments_total",
			Help: "Payments recorded against statements.",
		},
		[]string{"purpose", "method", "result"},
	)

	settlementsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "villagepay_settlements_completed_total",
		Help: "Statements whose settlement transitioned to completed.",
	})

	walletOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villagepay_wallet_operations_total",
			Help: "Wallet deposits and debits.",
		},
		[]string{"kind", "op", "result"},
	)

	engineConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "villagepay_engine_conflicts_total",
		Help: "Units of work aborted by a concurrent modification.",
	})

	engineOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "villagepay_engine_op_duration_seconds",
			Help:    "Engine operation latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			paymentsTotal, settlementsCompleted, walletOps, engineConflicts, engineOpDuration,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the latest readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// LabelInvalid stands in for label values taken from input that failed validation.
const LabelInvalid = "invalid"

func RecordPayment(purpose, method, result string) {
	paymentsTotal.WithLabelValues(purpose, method, result).Inc()
}

func RecordSettlementCompleted() { settlementsCompleted.Inc() }

func RecordWalletOp(kind, op, result string) {
	walletOps.WithLabelValues(kind, op, result).Inc()
}

func RecordConflict() { engineConflicts.Inc() }

func ObserveEngineOp(op string, d time.Duration) {
	engineOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Instrument records in-flight count, request totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// resources maps a collection under /v1 to the sub-resources allowed after its id.
var resources = map[string]map[string]bool{
	"properties":   {"statements": true, "outstanding": true},
	"statements":   {"archive": true, "settlement": true, "export": true, "payments": true},
	"transactions": {"status": true},
	"wallets":      {"entries": true, "deposit": true},
}

// CanonicalPath replaces resource ids with ":id" so metric labels stay bounded.
// Unknown shapes are returned unchanged.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "v1" {
		return raw
	}
	subs, ok := resources[parts[1]]
	if !ok {
		return raw
	}
	if len(parts) == 4 && !subs[parts[3]] {
		return raw
	}
	parts[2] = ":id"
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
