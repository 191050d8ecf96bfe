package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes pipeline metrics to Prometheus
type MetricsCollector struct {
	ingestionCycles   *prometheus.CounterVec
	ingestionDuration prometheus.Histogram
	recordsProcessed  prometheus.Gauge
	qualityScore      prometheus.Gauge
	qualityIssues     *prometheus.CounterVec
	fetchErrors       *prometheus.CounterVec
	breakerOpen       *prometheus.GaugeVec
}

var (
	collector     *MetricsCollector
	collectorOnce sync.Once
)

// NewMetricsCollector returns the process-wide metrics collector
func NewMetricsCollector() *MetricsCollector {
	collectorOnce.Do(func() {
		collector = &MetricsCollector{
			ingestionCycles: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "treasuryd_ingestion_cycles_total",
				Help: "Total ingestion cycles by outcome",
			}, []string{"outcome"}),
			ingestionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "treasuryd_ingestion_duration_seconds",
				Help:    "Duration of ingestion cycles",
				Buckets: prometheus.DefBuckets,
			}),
			recordsProcessed: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "treasuryd_records_processed",
				Help: "Leaf readings captured by the last ingestion cycle",
			}),
			qualityScore: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "treasuryd_quality_score",
				Help: "Quality score of the last ingested snapshot",
			}),
			qualityIssues: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "treasuryd_quality_issues_total",
				Help: "Quality issues by type and severity",
			}, []string{"issue_type", "severity"}),
			fetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "treasuryd_fetch_errors_total",
				Help: "Source fetch failures by fetcher",
			}, []string{"fetcher"}),
			breakerOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "treasuryd_circuit_breaker_open",
				Help: "Whether the named source breaker is open (1) or closed (0)",
			}, []string{"source"}),
		}
	})
	return collector
}

// RecordCycle records an ingestion cycle outcome
func (m *MetricsCollector) RecordCycle(success bool, durationSeconds float64, records int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ingestionCycles.WithLabelValues(outcome).Inc()
	m.ingestionDuration.Observe(durationSeconds)
	m.recordsProcessed.Set(float64(records))
}

// RecordQuality records the outcome of quality validation
func (m *MetricsCollector) RecordQuality(score float64, issues map[string]map[string]int) {
	m.qualityScore.Set(score)
	for issueType, bySeverity := range issues {
		for severity, count := range bySeverity {
			m.qualityIssues.WithLabelValues(issueType, severity).Add(float64(count))
		}
	}
}

// RecordFetchError records a fetch failure for one fetcher
func (m *MetricsCollector) RecordFetchError(fetcher string) {
	m.fetchErrors.WithLabelValues(fetcher).Inc()
}

// SetBreakerState publishes the open/closed state of a source breaker
func (m *MetricsCollector) SetBreakerState(source string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.breakerOpen.WithLabelValues(source).Set(value)
}
