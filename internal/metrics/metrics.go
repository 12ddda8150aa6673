// Package metrics provides Prometheus instrumentation for the portfolio
// service.
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
	// TransactionsTotal counts accepted transactions, partitioned by type.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_transactions_total",
		Help: "Total number of transactions accepted",
	}, []string{"type"})

	// RejectionsTotal counts rejected transactions by rejection reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_transaction_rejections_total",
		Help: "Transactions rejected at validation or replay",
	}, []string{"reason"})

	// ReplayDuration tracks full-history replay latency.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_replay_duration_seconds",
		Help:    "Ledger replay duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReplayLength tracks how many transactions each replay processed.
	ReplayLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_replay_transactions",
		Help:    "Number of transactions per ledger replay",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
	})

	// RebuildDivergence counts maintenance rebuilds whose replay disagreed
	// with the persisted snapshot. Any increment warrants investigation.
	RebuildDivergence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_rebuild_divergence_total",
		Help: "Rebuilds where persisted state diverged from a fresh replay",
	})

	// QuoteFetchDuration tracks quote provider latency by outcome.
	QuoteFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_quote_fetch_duration_seconds",
		Help:    "Quote provider fetch duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"outcome"})

	// QuoteCacheHits counts quote lookups served from the in-process cache.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_quote_cache_hits_total",
		Help: "Quote lookups served from cache",
	})

	// UnvaluedHoldings counts holdings degraded to unvalued in a valuation.
	UnvaluedHoldings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_unvalued_holdings_total",
		Help: "Holdings returned without a market value",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
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
