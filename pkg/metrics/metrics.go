// Package metrics provides metrics collection capabilities for the application.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the application.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// Common metrics
	RequestCount        *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RequestInFlight     *prometheus.GaugeVec
	ErrorCount          *prometheus.CounterVec
	ServiceUptime       prometheus.Gauge
	ServiceLastStarted  prometheus.Gauge
	DependencyLatency   *prometheus.HistogramVec
	DependencyErrorRate *prometheus.CounterVec

	// Transaction metrics
	TransactionCount    *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	PollTicks           *prometheus.CounterVec
	PollLoopsInFlight   prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// Subsystem is the Prometheus subsystem for the common metrics.
	Subsystem string
	// ServiceName is the name of the service that is collecting metrics.
	ServiceName string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:   "chipdesk",
		Subsystem:   "",
		ServiceName: "chipdesk",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,

		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_total",
				Help:      "Total number of requests received",
			},
			[]string{"service", "method", "path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method", "path"},
		),

		RequestInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being processed",
			},
			[]string{"service"},
		),

		ErrorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type", "code"},
		),

		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "service_uptime_seconds",
				Help:        "Service uptime in seconds",
				ConstLabels: prometheus.Labels{"service": cfg.ServiceName},
			},
		),

		ServiceLastStarted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "service_last_started_timestamp",
				Help:        "Timestamp when the service was last started",
				ConstLabels: prometheus.Labels{"service": cfg.ServiceName},
			},
		),

		DependencyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dependency_latency_seconds",
				Help:      "Dependency request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"dependency", "operation"},
		),

		DependencyErrorRate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dependency_errors_total",
				Help:      "Total number of dependency errors",
			},
			[]string{"dependency", "operation", "status"},
		),

		TransactionCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transaction",
				Name:      "total",
				Help:      "Transactions by feature and terminal outcome",
			},
			[]string{"feature", "outcome"},
		),

		TransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transaction",
				Name:      "duration_seconds",
				Help:      "Time from submission to terminal outcome",
				Buckets:   []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 30},
			},
			[]string{"feature", "outcome"},
		),

		PollTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transaction",
				Name:      "poll_ticks_total",
				Help:      "Status reads performed while awaiting confirmation",
			},
			[]string{"result"},
		),

		PollLoopsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transaction",
				Name:      "poll_loops_in_flight",
				Help:      "Poll loops currently awaiting a transaction hash",
			},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Outcome events handed to the broker",
			},
			[]string{"topic", "status"},
		),
	}

	m.ServiceLastStarted.Set(float64(time.Now().Unix()))

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordUptime starts a goroutine that updates the service uptime metric.
func (m *Metrics) RecordUptime(done <-chan struct{}) {
	startTime := time.Now()
	ticker := time.NewTicker(1 * time.Second)

	go func() {
		for {
			select {
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(startTime).Seconds())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(service, method, path string, status int, duration time.Duration) {
	m.RequestCount.WithLabelValues(service, method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error metric.
func (m *Metrics) RecordError(service, errorType, errorCode string) {
	m.ErrorCount.WithLabelValues(service, errorType, errorCode).Inc()
}

// RecordDependencyLatency records the latency of a dependency operation.
func (m *Metrics) RecordDependencyLatency(dependency, operation string, duration time.Duration) {
	m.DependencyLatency.WithLabelValues(dependency, operation).Observe(duration.Seconds())
}

// RecordDependencyError records a failed dependency call. status is the HTTP
// status when one was received, otherwise "network".
func (m *Metrics) RecordDependencyError(dependency, operation, status string) {
	m.DependencyErrorRate.WithLabelValues(dependency, operation, status).Inc()
}

// RecordTransaction records the terminal outcome of one submit-and-await call.
func (m *Metrics) RecordTransaction(feature, outcome string, duration time.Duration) {
	m.TransactionCount.WithLabelValues(feature, outcome).Inc()
	m.TransactionDuration.WithLabelValues(feature, outcome).Observe(duration.Seconds())
}

// RecordPollTick records one status read; result is "pending", "hash" or "error".
func (m *Metrics) RecordPollTick(result string) {
	m.PollTicks.WithLabelValues(result).Inc()
}

// RecordEvent records an outcome event publish attempt.
func (m *Metrics) RecordEvent(topic, status string) {
	m.EventsPublished.WithLabelValues(topic, status).Inc()
}
