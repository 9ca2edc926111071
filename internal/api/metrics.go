package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// requestsTotal counts requests by route pattern and status code.
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route"})

	// stateWritesTotal counts review writes.
	// Labels: mode (overwrite, versioned), result (ok, conflict, error)
	stateWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Name:      "state_writes_total",
		Help:      "Review document writes by mode and result",
	}, []string{"mode", "result"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triage",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket subscribers",
	})

	wsNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "ws",
		Name:      "notifications_total",
		Help:      "state_changed notifications broadcast",
	})
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
