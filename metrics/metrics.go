// Package metrics exposes Prometheus collectors for the hub.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_sessions_active",
		Help: "The current number of registered sessions.",
	})
	TotalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_sessions_total",
		Help: "The total number of sessions ever registered.",
	})
	RejectedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_sessions_rejected_total",
		Help: "The total number of sessions rejected at capacity.",
	})

	// Dispatch metrics
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_events_received_total",
		Help: "The total number of inbound events accepted for dispatch.",
	})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_events_delivered_total",
		Help: "The total number of per-recipient deliveries enqueued.",
	})
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_delivery_failures_total",
		Help: "The total number of per-recipient deliveries skipped.",
	})
	HandlerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_handler_timeouts_total",
		Help: "The total number of handler invocations aborted at the deadline.",
	})

	// History gateway metrics
	HistoryAppendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_history_append_retries_total",
		Help: "The total number of retried history appends.",
	})
	HistoryAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_history_append_failures_total",
		Help: "The total number of history appends that gave up.",
	})
)

// StartServer serves the Prometheus scrape endpoint on its own listener.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting metrics server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}
