// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Summary cycle outcomes
const (
	CycleProduced = "produced"
	CycleEmpty    = "empty"
	CyclePending  = "pending"
	CycleFailed   = "failed"
)

// Metrics aggregates the pipeline's prometheus instruments
type Metrics struct {
	ingestionRuns          *prometheus.CounterVec
	articlesIngested       *prometheus.CounterVec
	enrichmentRuns         *prometheus.CounterVec
	summaryCycles          *prometheus.CounterVec
	articlesByState        *prometheus.GaugeVec
	ingestionRunSeconds    prometheus.Histogram
	enrichmentBatchSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdesk",
			Name:      "ingestion_runs_total",
			Help:      "Completed feed ingestion runs by status.",
		}, []string{"status"}),
		articlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdesk",
			Name:      "articles_ingested_total",
			Help:      "Feed items processed by ingestion, by outcome.",
		}, []string{"outcome"}),
		enrichmentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdesk",
			Name:      "enrichment_articles_total",
			Help:      "Articles processed by enrichment, by outcome.",
		}, []string{"outcome"}),
		summaryCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdesk",
			Name:      "summary_cycles_total",
			Help:      "Summarization cycles by result.",
		}, []string{"result"}),
		articlesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "newsdesk",
			Name:      "articles_by_state",
			Help:      "Current article count per processing state.",
		}, []string{"state"}),
		ingestionRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsdesk",
			Name:      "ingestion_run_seconds",
			Help:      "Wall time of one feed ingestion run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		enrichmentBatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsdesk",
			Name:      "enrichment_batch_seconds",
			Help:      "Wall time of one enrichment batch.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.ingestionRuns, m.articlesIngested, m.enrichmentRuns, m.summaryCycles,
		m.articlesByState, m.ingestionRunSeconds, m.enrichmentBatchSeconds)
	return m
}

// RecordIngestion records one completed ingestion run and its wall time
func (m *Metrics) RecordIngestion(newCount, duplicateCount, failedCount int, fetchFailed bool, elapsed time.Duration) {
	status := "ok"
	if fetchFailed {
		status = "error"
	}
	m.ingestionRuns.WithLabelValues(status).Inc()
	m.articlesIngested.WithLabelValues("new").Add(float64(newCount))
	m.articlesIngested.WithLabelValues("duplicate").Add(float64(duplicateCount))
	m.articlesIngested.WithLabelValues("failed").Add(float64(failedCount))
	m.ingestionRunSeconds.Observe(elapsed.Seconds())
}

// RecordEnrichmentBatch records the outcome mix and wall time of one
// enrichment pass.
func (m *Metrics) RecordEnrichmentBatch(enriched, retried, failed int, elapsed time.Duration) {
	m.enrichmentRuns.WithLabelValues("enriched").Add(float64(enriched))
	m.enrichmentRuns.WithLabelValues("retried").Add(float64(retried))
	m.enrichmentRuns.WithLabelValues("failed").Add(float64(failed))
	m.enrichmentBatchSeconds.Observe(elapsed.Seconds())
}

// RecordSummaryCycle records the result of one summarization cycle
func (m *Metrics) RecordSummaryCycle(result string) {
	m.summaryCycles.WithLabelValues(result).Inc()
}

// SetArticleStates publishes the current per-state article counts
func (m *Metrics) SetArticleStates(counts map[string]int) {
	for state, n := range counts {
		m.articlesByState.WithLabelValues(state).Set(float64(n))
	}
}
