package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the traffic engine.
type Metrics struct {
	// Redirect path metrics
	Redirects       *prometheus.CounterVec
	RedirectLatency *prometheus.HistogramVec
	Selections      *prometheus.CounterVec

	// Impression attribution metrics
	ImpressionFills   *prometheus.CounterVec
	Impressions       prometheus.Counter
	Clicks            prometheus.Counter
	Conversions       prometheus.Counter

	// Aggregation metrics
	AggregationRuns    *prometheus.CounterVec
	AggregationLatency prometheus.Histogram
	SinkDeliveries     *prometheus.CounterVec
	SinkLatency        *prometheus.HistogramVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Archive metrics
	ArchivedEvents *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Redirects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redirects_total",
				Help:      "Total redirects served, by outcome",
			},
			[]string{"outcome"},
		),
		RedirectLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redirect_latency_seconds",
				Help:      "Redirect resolution latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"outcome"},
		),
		Selections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "distribution_selections_total",
				Help:      "Weighted selections performed, by campaign",
			},
			[]string{"campaign_id"},
		),
		ImpressionFills: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impression_fills_total",
				Help:      "Impression attribution outcomes (filled vs created)",
			},
			[]string{"mode"},
		),
		Impressions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impressions_total",
				Help:      "Total impressions recorded",
			},
		),
		Clicks: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total clicks recorded",
			},
		),
		Conversions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total conversions recorded",
			},
		),
		AggregationRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_runs_total",
				Help:      "Aggregation passes, by result",
			},
			[]string{"result"},
		),
		AggregationLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of a full aggregation pass",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		SinkDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_deliveries_total",
				Help:      "Analytics deliveries to the reporting sink, by status",
			},
			[]string{"scope", "status"},
		),
		SinkLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_latency_seconds",
				Help:      "Reporting sink request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"scope"},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits, by kind",
			},
			[]string{"kind"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses, by kind",
			},
			[]string{"kind"},
		),
		ArchivedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archived_events_total",
				Help:      "Events flushed to the ClickHouse archive, by type",
			},
			[]string{"event_type"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRedirect records a served redirect and its latency.
func (m *Metrics) RecordRedirect(outcome string, latency time.Duration) {
	m.Redirects.WithLabelValues(outcome).Inc()
	m.RedirectLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordSelection records a weighted selection for a campaign.
func (m *Metrics) RecordSelection(campaignID string) {
	m.Selections.WithLabelValues(campaignID).Inc()
}

// RecordImpressionFill records whether attribution filled an orphan
// impression or created a new one.
func (m *Metrics) RecordImpressionFill(mode string) {
	m.ImpressionFills.WithLabelValues(mode).Inc()
}

// RecordAggregationRun records a completed aggregation pass.
func (m *Metrics) RecordAggregationRun(result string, duration time.Duration) {
	m.AggregationRuns.WithLabelValues(result).Inc()
	m.AggregationLatency.Observe(duration.Seconds())
}

// RecordSinkDelivery records a reporting sink delivery attempt.
func (m *Metrics) RecordSinkDelivery(scope, status string, latency time.Duration) {
	m.SinkDeliveries.WithLabelValues(scope, status).Inc()
	m.SinkLatency.WithLabelValues(scope).Observe(latency.Seconds())
}

// RecordCacheHit records a cache hit for a key kind.
func (m *Metrics) RecordCacheHit(kind string) {
	m.CacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for a key kind.
func (m *Metrics) RecordCacheMiss(kind string) {
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// RecordArchivedEvents records a flushed archive batch.
func (m *Metrics) RecordArchivedEvents(eventType string, n int) {
	m.ArchivedEvents.WithLabelValues(eventType).Add(float64(n))
}
