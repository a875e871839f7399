// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts trades recorded in the ledger, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyagent_trades_total",
		Help: "Total number of trades recorded",
	}, []string{"side"})

	// DepositsTotal counts deposits recorded in the ledger.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyagent_deposits_total",
		Help: "Total number of deposits recorded",
	})

	// ExitsTotal counts auto-exit triggers, partitioned by reason and mode.
	ExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyagent_exits_total",
		Help: "Total number of auto-exit triggers",
	}, []string{"reason", "mode"})

	// ActiveMonitors tracks running auto-exit monitoring loops.
	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyagent_active_monitors",
		Help: "Number of running auto-exit monitoring loops",
	})

	// OracleErrorsTotal counts failed price-oracle fetches (missed ticks).
	OracleErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyagent_oracle_errors_total",
		Help: "Price oracle fetches that failed or timed out",
	})

	// TradeRejections counts trades rejected by the risk validator.
	TradeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyagent_trade_rejections_total",
		Help: "Trades rejected by the risk validator",
	})

	// WebSocketClients tracks connected alert-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyagent_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyagent_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polyagent_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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
