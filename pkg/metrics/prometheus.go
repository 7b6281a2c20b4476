package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesTotal  *prometheus.CounterVec
	dropsTotal     *prometheus.CounterVec
	anomaliesTotal *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	lastPrice      *prometheus.GaugeVec
	cacheHitRate   prometheus.Gauge
	qualityScore   prometheus.Gauge
	sourceHealth   *prometheus.GaugeVec
}

// New creates a Prometheus metrics recorder. Call once per process;
// promauto panics on duplicate registration.
func New() *Recorder {
	return &Recorder{
		messagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_messages_total",
				Help: "Inbound messages by kind",
			},
			[]string{"kind"},
		),
		dropsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_dropped_messages_total",
				Help: "Messages dropped by the pipeline, by reason",
			},
			[]string{"reason"},
		),
		anomaliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_anomalies_total",
				Help: "Detected anomalies by symbol",
			},
			[]string{"symbol"},
		),
		alertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_alerts_total",
				Help: "Raised alerts by severity",
			},
			[]string{"severity"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of pipeline operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_last_price",
				Help: "Last validated price for a symbol",
			},
			[]string{"symbol"},
		),
		cacheHitRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_cache_hit_rate",
				Help: "Cache hit rate in [0,1]",
			},
		),
		qualityScore: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_data_quality_score",
				Help: "Pipeline data quality score in [0,100]",
			},
		),
		sourceHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_source_health",
				Help: "Aggregator health score per source in [0,100]",
			},
			[]string{"source"},
		),
	}
}

// RecordMessage counts one inbound message by kind.
func (r *Recorder) RecordMessage(kind string) {
	r.messagesTotal.WithLabelValues(kind).Inc()
}

// RecordDrop counts one dropped message by reason.
func (r *Recorder) RecordDrop(reason string) {
	r.dropsTotal.WithLabelValues(reason).Inc()
}

// RecordAnomaly counts one detected anomaly.
func (r *Recorder) RecordAnomaly(symbol string) {
	r.anomaliesTotal.WithLabelValues(symbol).Inc()
}

// RecordAlert counts one raised alert.
func (r *Recorder) RecordAlert(severity string) {
	r.alertsTotal.WithLabelValues(severity).Inc()
}

// RecordLatency observes one operation duration in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordLastPrice sets the latest validated price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// SetCacheHitRate publishes the cache hit rate.
func (r *Recorder) SetCacheHitRate(v float64) {
	r.cacheHitRate.Set(v)
}

// SetQualityScore publishes the pipeline quality score.
func (r *Recorder) SetQualityScore(v float64) {
	r.qualityScore.Set(v)
}

// SetSourceHealth publishes one source's health score.
func (r *Recorder) SetSourceHealth(source string, score float64) {
	r.sourceHealth.WithLabelValues(source).Set(score)
}
