// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runInFlight   prometheus.Gauge
	adapterTotal  *prometheus.CounterVec
	adapterErrors *prometheus.CounterVec
	flaggedTotal  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by final status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds by final status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	adapterTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "adapter_runs_total",
			Help:      "Total adapter invocations by adapter and outcome.",
		},
		[]string{"service", "adapter", "outcome"},
	)
	adapterErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "adapter_errors_total",
			Help:      "Total adapter failures by adapter and reason.",
		},
		[]string{"service", "adapter", "reason"},
	)
	flaggedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoiceflow",
			Subsystem: "pipeline",
			Name:      "flagged_total",
			Help:      "Total structured invoices flagged for review by reason.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(runTotal, runDuration, runInFlight, adapterTotal, adapterErrors, flaggedTotal)

	return &PipelineMetrics{
		registry:      registry,
		runTotal:      runTotal,
		runDuration:   runDuration,
		runInFlight:   runInFlight,
		adapterTotal:  adapterTotal,
		adapterErrors: adapterErrors,
		flaggedTotal:  flaggedTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartRun() {
	m.runInFlight.Inc()
}

func (m *PipelineMetrics) FinishRun(service, status string, duration time.Duration) {
	m.runInFlight.Dec()
	m.runTotal.WithLabelValues(service, status).Inc()
	m.runDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveAdapter(service, adapter string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.adapterTotal.WithLabelValues(service, adapter, outcome).Inc()
}

func (m *PipelineMetrics) ObserveAdapterError(service, adapter, reason string) {
	m.adapterErrors.WithLabelValues(service, adapter, reason).Inc()
}

func (m *PipelineMetrics) ObserveFlagged(service, reason string) {
	m.flaggedTotal.WithLabelValues(service, reason).Inc()
}
