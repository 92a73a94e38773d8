// Package metrics provides Prometheus instrumentation for the vault mirror.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MirrorUpdates counts accepted mirror updates, notifying or not.
	MirrorUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultmirror_updates_total",
		Help: "Total mirror updates applied",
	})

	// MirrorNotifications counts updates that reached listeners.
	MirrorNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultmirror_notifications_total",
		Help: "Total change notifications sent to listeners",
	})

	MirrorFallbackRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultmirror_fallback_refreshes_total",
		Help: "Refreshes started by the fallback timer",
	})

	// PartialReadFailures counts sub-reads that failed during a refresh.
	PartialReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_partial_read_failures_total",
		Help: "Failed sub-reads, by mirrored field",
	}, []string{"field"})

	// Price, TotalCollateralRatio and BorrowingRate follow the mirror.
	Price = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultmirror_price",
		Help: "Collateral price in BPD",
	})
	TotalCollateralRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultmirror_total_collateral_ratio",
		Help: "System-wide collateral ratio",
	})
	BorrowingRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultmirror_borrowing_rate",
		Help: "Current borrowing rate",
	})
	RecoveryMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultmirror_recovery_mode",
		Help: "1 while the system is in recovery mode",
	})

	// ChainCallLatency tracks contract call latency by method.
	ChainCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultmirror_chain_call_latency_seconds",
		Help:    "Chain call latency in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method"})

	ChainCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_chain_call_errors_total",
		Help: "Failed chain calls by method",
	}, []string{"method"})

	// HintProbeCalls counts batched approximate-hint calls.
	HintProbeCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultmirror_hint_probe_calls_total",
		Help: "Approximate hint probe calls issued",
	})

	HintTrials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultmirror_hint_trials_total",
		Help: "Random trials requested across probe calls",
	})

	// Redemptions counts redemption plans by outcome.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_redemptions_total",
		Help: "Redemption plans computed, by outcome",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultmirror_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JournalWrites counts change journal writes by result.
	JournalWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_journal_writes_total",
		Help: "Change journal writes",
	}, []string{"result"})

	// PublishedEvents counts change events sent to the message bus.
	PublishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_published_events_total",
		Help: "Change events published",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultmirror_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultmirror_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveCall records the latency and outcome of one chain call.
func ObserveCall(method string, start time.Time, err error) {
	ChainCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		ChainCallErrors.WithLabelValues(method).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
