// Package metrics provides Prometheus instrumentation for the exchange
// engine.
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
	// OrdersTotal counts admitted orders, partitioned by direction.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of orders admitted",
	}, []string{"direction"})

	// OrderRejections counts admission failures by error kind.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_order_rejections_total",
		Help: "Orders rejected at admission",
	}, []string{"reason"})

	// ExecutionsTotal counts match events.
	ExecutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_executions_total",
		Help: "Total number of match executions",
	})

	// OrderLatency tracks place-order latency end to end, matching and
	// settlement included.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_order_latency_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// MarketsCreated counts market creations.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_markets_created_total",
		Help: "Total number of markets created",
	})

	// MarketsResolved counts oracle resolutions.
	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_markets_resolved_total",
		Help: "Total number of markets resolved",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
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

		// The raw request path is the label, so each distinct URL (market
		// and user ids included) gets its own series.
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
