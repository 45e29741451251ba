package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

// Prometheus metrics for the fraud API

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraud",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"method", "handler"},
	)

	// Scoring metrics
	scoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraud",
			Subsystem: "scoring",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating all signals for a transaction",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10μs to ~330ms
		},
	)

	signalsFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "scoring",
			Name:      "signals_flagged_total",
			Help:      "Total number of signals reporting potential fraud",
		},
		[]string{"signal"},
	)

	transactionsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "scoring",
			Name:      "transactions_total",
			Help:      "Total number of scored transactions",
		},
		[]string{"flagged"},
	)

	// Blacklist metrics
	blacklistSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "blacklist",
			Name:      "sync_total",
			Help:      "Total number of blacklist sync attempts",
		},
		[]string{"result"},
	)

	blacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraud",
			Subsystem: "blacklist",
			Name:      "size",
			Help:      "Current number of blacklisted addresses",
		},
	)

	// Signal feed metrics
	feedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraud",
			Subsystem: "signal_feed",
			Name:      "dropped_total",
			Help:      "Total number of feed events dropped because the hub was backlogged",
		},
	)
)

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHTTPHandler wraps an HTTP handler with metrics collection
func InstrumentHTTPHandler(handlerName string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		handler.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := statusCodeClass(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, handlerName, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, handlerName).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// prometheusRecorder exports scoring outcomes to Prometheus
type prometheusRecorder struct{}

var _ fraud.MetricsRecorder = prometheusRecorder{}

func (prometheusRecorder) RecordScoring(_ context.Context, duration time.Duration, resp *fraud.ScoreResponse) {
	scoringDuration.Observe(duration.Seconds())

	flagged := "false"
	for _, kind := range resp.FlaggedKinds() {
		flagged = "true"
		signalsFlagged.WithLabelValues(kind.String()).Inc()
	}
	transactionsScored.WithLabelValues(flagged).Inc()
}

// RecordBlacklistSync records a blacklist sync attempt and the resulting size
func RecordBlacklistSync(size int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	blacklistSyncs.WithLabelValues(result).Inc()
	blacklistSize.Set(float64(size))
}

// RecordFeedDrop records a dropped signal feed event
func RecordFeedDrop() {
	feedDropped.Inc()
}
