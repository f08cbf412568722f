// Package metrics exposes Prometheus collectors for webhook traffic and
// deployment runs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deployhook/internal/deployment"
)

const namespace = "deployhook"

var (
	requestBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	runBuckets     = []float64{10, 30, 60, 120, 300, 600, 900, 1800}
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	webhookResults  *prometheus.CounterVec
	runResults      *prometheus.CounterVec
	stepResults     *prometheus.CounterVec
	runDuration     prometheus.Histogram
	runsInProgress  prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   requestBuckets,
		}, []string{"method", "route", "status"}),
		webhookResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by result",
		}, []string{"result"}),
		runResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Finished deployment runs by outcome",
		}, []string{"outcome"}),
		stepResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployment_steps_total",
			Help:      "Recorded deployment steps by name and outcome",
		}, []string{"step", "outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Wall time of deployment runs",
			Buckets:   runBuckets,
		}),
		runsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployments_in_progress",
			Help:      "1 while a deployment run is executing",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_deployment_timestamp_seconds",
			Help:      "Unix time the last successful run finished",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.webhookResults,
		m.runResults,
		m.stepResults,
		m.runDuration,
		m.runsInProgress,
		m.lastSuccess,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestDuration.With(labels).Observe(duration.Seconds())
}

// WebhookResult counts a webhook delivery outcome such as "initiated".
func (m *Metrics) WebhookResult(result string) {
	m.webhookResults.WithLabelValues(result).Inc()
}

// RunStarted is part of deployment.Reporter.
func (m *Metrics) RunStarted(ctx context.Context, run *deployment.Run) {
	m.runsInProgress.Set(1)
}

// RunFinished is part of deployment.Reporter.
func (m *Metrics) RunFinished(ctx context.Context, run *deployment.Run) {
	m.runsInProgress.Set(0)
	m.runResults.WithLabelValues(string(run.Outcome)).Inc()
	m.runDuration.Observe(run.Duration().Seconds())
	for _, s := range run.Steps {
		m.stepResults.WithLabelValues(string(s.Name), string(s.Outcome)).Inc()
	}
	if run.Outcome == deployment.OutcomeSuccess {
		m.lastSuccess.Set(float64(run.FinishedAt.Unix()))
	}
}
