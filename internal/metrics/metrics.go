// Package metrics provides Prometheus instrumentation for the price engine.
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
	// FramesTotal counts animation frames, partitioned by whether they rendered.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_frames_total",
		Help: "Animation frames computed",
	}, []string{"market", "rendered"})

	// FrameDuration tracks how long one animation frame takes.
	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "race_frame_duration_seconds",
		Help:    "Animation frame computation time in seconds",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	// DisplayPrice is the animated price per market.
	DisplayPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "race_display_price",
		Help: "Current animated display price",
	}, []string{"market"})

	// SamplesTotal counts feed samples by source and outcome.
	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_feed_samples_total",
		Help: "Feed samples received",
	}, []string{"source", "outcome"})

	// FeedReconnects counts upstream reconnect attempts.
	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_feed_reconnects_total",
		Help: "Upstream feed reconnect attempts",
	}, []string{"source"})

	// WagersPlaced counts placement attempts by outcome.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_wagers_placed_total",
		Help: "Wager placement attempts",
	}, []string{"market", "direction", "outcome"})

	// WagersSettled counts settled wagers by result.
	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_wagers_settled_total",
		Help: "Wagers settled",
	}, []string{"market", "result"})

	// ActiveWagers tracks pending wagers.
	ActiveWagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "race_active_wagers",
		Help: "Number of wagers awaiting settlement",
	})

	// Balance tracks the player's spendable balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "race_balance",
		Help: "Player balance",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "race_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "race_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required for WebSocket upgrades behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
