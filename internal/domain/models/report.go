package models

// QualityReport is the outcome of the quality gate for one snapshot.
// Any error blocks downstream use; warnings do not.
type QualityReport struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AnomalyDetection describes a deviation from a symbol's rolling
// baseline. Confidence above 0.8 is considered actionable.
type AnomalyDetection struct {
	HasAnomaly  bool    `json:"has_anomaly"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"` // [0,1]
}

// CrossSourceReport is the result of comparing snapshots for the same
// symbol across independent sources within a freshness window.
type CrossSourceReport struct {
	IsConsistent  bool     `json:"is_consistent"`
	MaxDivergence float64  `json:"max_divergence"` // relative, e.g. 0.05 = 5%
	Sources       []string `json:"sources,omitempty"`
	Compared      int      `json:"compared"`
}

// AggregationResult is returned per Aggregate call; it is never persisted.
type AggregationResult struct {
	Success       bool               `json:"success"`
	Data          *Snapshot          `json:"data,omitempty"`
	Sources       []string           `json:"sources,omitempty"`
	PrimarySource string             `json:"primary_source,omitempty"`
	FallbackUsed  bool               `json:"fallback_used"`
	Errors        []string           `json:"errors,omitempty"`
	Validation    *CrossSourceReport `json:"validation,omitempty"`
}

// Quality classifies the health of one transport connection.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// ConnectionMetrics is an immutable copy of the tracker's state.
// Latencies are milliseconds.
type ConnectionMetrics struct {
	LatencyMS    float64 `json:"latency_ms"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	MinLatencyMS float64 `json:"min_latency_ms"`
	MaxLatencyMS float64 `json:"max_latency_ms"`

	ProbesSent     int64   `json:"probes_sent"`
	ProbesAcked    int64   `json:"probes_acked"`
	ProbesLost     int64   `json:"probes_lost"`
	LossRate       float64 `json:"loss_rate"` // [0,1]
	MessagesPerSec float64 `json:"messages_per_sec"`
	BytesPerSec    float64 `json:"bytes_per_sec"`

	Quality        Quality `json:"quality"`
	ReconnectCount int     `json:"reconnect_count"`
	UptimeMS       int64   `json:"uptime_ms"`
}

// PipelineMetrics is the payload of the periodic metrics event.
type PipelineMetrics struct {
	CacheHitRate     float64 `json:"cache_hit_rate"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	DataQualityScore float64 `json:"data_quality_score"` // [0,100]
	ValidMessages    int64   `json:"valid_messages"`
	InvalidMessages  int64   `json:"invalid_messages"`
	DroppedMessages  int64   `json:"dropped_messages"`
	Anomalies        int64   `json:"anomalies"`
}
