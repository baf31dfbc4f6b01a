// Package metrics registers the Prometheus instruments shared by the
// pipeline stages. Init must be called once per process before any
// Record helper.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	messagesTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	dlqTotal      *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec

	ingestTotal     *prometheus.CounterVec
	duplicatesTotal *prometheus.CounterVec

	tiSourceTotal *prometheus.CounterVec

	llmRequestsTotal *prometheus.CounterVec
	triageConfidence prometheus.Histogram
	triageRiskLevel  *prometheus.CounterVec
)

// Init registers all instruments.
func Init() {
	once.Do(func() {
		messagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_messages_total",
				Help: "Messages processed per stage by outcome",
			},
			[]string{"stage", "outcome"},
		)

		stageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_stage_duration_seconds",
				Help:    "Per-message processing duration per stage",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		dlqTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_dlq_total",
				Help: "Messages dead-lettered per stage by reason",
			},
			[]string{"stage", "reason"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_errors_total",
				Help: "Errors per stage by kind",
			},
			[]string{"stage", "kind"},
		)

		ingestTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_ingest_requests_total",
				Help: "Ingestion API requests by result code",
			},
			[]string{"code"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_normalizer_duplicates_total",
				Help: "Alerts dropped as fingerprint duplicates",
			},
			[]string{"source"},
		)

		tiSourceTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_threat_source_requests_total",
				Help: "Threat-intel source queries by outcome",
			},
			[]string{"source", "outcome"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_llm_requests_total",
				Help: "LLM completion calls by status",
			},
			[]string{"status"},
		)

		triageConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_triage_confidence",
				Help:    "Distribution of triage confidence (0-1)",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		)

		triageRiskLevel = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_triage_risk_level_total",
				Help: "Distribution of final risk levels",
			},
			[]string{"risk_level"},
		)
	})
}

// RecordMessage records a consumed message outcome:
// "success", "duplicate", "retry", "dlq".
func RecordMessage(stage, outcome string) {
	if messagesTotal != nil {
		messagesTotal.WithLabelValues(stage, outcome).Inc()
	}
}

// RecordStageDuration records one message's processing time.
func RecordStageDuration(stage string, d time.Duration) {
	if stageDuration != nil {
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordDLQ records a dead-lettered message with its reason.
func RecordDLQ(stage, reason string) {
	if dlqTotal != nil {
		dlqTotal.WithLabelValues(stage, reason).Inc()
	}
}

// RecordError records a stage error by kind: "transient", "permanent",
// "timeout", "circuit_open", "parse".
func RecordError(stage, kind string) {
	if errorsTotal != nil {
		errorsTotal.WithLabelValues(stage, kind).Inc()
	}
}

// RecordIngest records one ingestion API request by result code.
func RecordIngest(code string) {
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(code).Inc()
	}
}

// RecordDuplicate records a fingerprint-duplicate drop at the normalizer.
func RecordDuplicate(source string) {
	if duplicatesTotal != nil {
		duplicatesTotal.WithLabelValues(source).Inc()
	}
}

// RecordThreatSource records a TI source query outcome:
// "hit", "clean", "timeout", "error", "circuit_open".
func RecordThreatSource(source, outcome string) {
	if tiSourceTotal != nil {
		tiSourceTotal.WithLabelValues(source, outcome).Inc()
	}
}

// RecordLLM records a completion call status:
// "success", "parse_error", "error", "fallback", "no_model".
func RecordLLM(status string) {
	if llmRequestsTotal != nil {
		llmRequestsTotal.WithLabelValues(status).Inc()
	}
}

// RecordTriage records the final confidence and risk level of a result.
func RecordTriage(confidence float64, riskLevel string) {
	if triageConfidence != nil {
		triageConfidence.Observe(confidence)
	}
	if triageRiskLevel != nil {
		triageRiskLevel.WithLabelValues(riskLevel).Inc()
	}
}

// Timer measures one stage operation.
type Timer struct {
	stage string
	start time.Time
}

// StartTimer begins timing a stage operation.
func StartTimer(stage string) *Timer {
	return &Timer{stage: stage, start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started.
func (t *Timer) ObserveDuration() {
	if t != nil {
		RecordStageDuration(t.stage, time.Since(t.start))
	}
}
