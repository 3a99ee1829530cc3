// Package metrics exposes Prometheus metrics for the API and the evaluation
// pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autograder/internal/qa"
)

const namespace = "autograder"

type Metrics struct {
	registry *prometheus.Registry

	tasksStarted   prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	runTransitions *prometheus.CounterVec
	runsInFlight   prometheus.Gauge

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	uploads             *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		tasksStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Evaluation tasks dispatched to the oracle.",
		}),
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Evaluation tasks that reached an outcome.",
		}, []string{"outcome", "verdict"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from first oracle attempt to final outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		runTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Evaluation runs that reached a terminal status.",
		}, []string{"status"}),
		runsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Evaluation runs currently executing in this process.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload batches by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveUpload counts an upload batch; result is "ok", "invalid" or "error".
func (m *Metrics) ObserveUpload(result string) {
	m.uploads.WithLabelValues(result).Inc()
}

// RunStarted and RunFinished bracket one Runner.Execute call.
func (m *Metrics) RunStarted()  { m.runsInFlight.Inc() }
func (m *Metrics) RunFinished() { m.runsInFlight.Dec() }

// Emit implements qa.EventSink.
func (m *Metrics) Emit(_ context.Context, ev qa.Event) {
	switch ev.Type {
	case qa.EventTaskStarted:
		m.tasksStarted.Inc()
	case qa.EventTaskCompleted, qa.EventTaskFailed:
		outcome := "completed"
		if ev.Type == qa.EventTaskFailed {
			outcome = "failed"
		}
		m.tasksFinished.WithLabelValues(outcome, string(ev.Verdict)).Inc()
		if ev.Duration > 0 {
			m.taskDuration.Observe(ev.Duration.Seconds())
		}
	case qa.EventRunStatus:
		if ev.Status.Terminal() {
			m.runTransitions.WithLabelValues(string(ev.Status)).Inc()
		}
	}
}

var _ qa.EventSink = (*Metrics)(nil)
