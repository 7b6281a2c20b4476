package quality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

const (
	defaultMaxTimestampDelay   = 5 * time.Minute
	defaultMaxPriceChangePct   = 20.0
	defaultHistoryWindow       = 50
	defaultDivergenceThreshold = 0.05
	defaultFreshnessWindow     = 30 * time.Second
	anomalyMinSamples          = 5
	volumeSpikeFactor          = 10.0
)

// Option configures a Validator.
type Option func(*Validator)

// WithMaxTimestampDelay bounds how stale or future-dated a snapshot may be.
func WithMaxTimestampDelay(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.maxTimestampDelay = d
		}
	}
}

// WithMaxPriceChangePercent bounds the change vs previous close, in percent.
func WithMaxPriceChangePercent(pct float64) Option {
	return func(v *Validator) {
		if pct > 0 {
			v.maxPriceChangePct = pct
		}
	}
}

// WithHistoryWindow bounds the per-symbol rolling reference window.
func WithHistoryWindow(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.historyWindow = n
		}
	}
}

// WithDivergenceThreshold sets the max tolerated relative price divergence
// across sources, e.g. 0.05 for 5%.
func WithDivergenceThreshold(d float64) Option {
	return func(v *Validator) {
		if d > 0 {
			v.divergenceThreshold = d
		}
	}
}

// WithFreshnessWindow sets the span within which two records are comparable.
func WithFreshnessWindow(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.freshnessWindow = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator is the quality gate: structural and semantic validation,
// rolling-baseline anomaly detection, and cross-source consistency.
// Malformed input is reported as invalid, never panicked on.
type Validator struct {
	mu                  sync.Mutex
	now                 func() time.Time
	maxTimestampDelay   time.Duration
	maxPriceChangePct   float64
	historyWindow       int
	divergenceThreshold float64
	freshnessWindow     time.Duration

	history map[string][]models.OHLCV
}

// New creates a Validator with default thresholds.
func New(opts ...Option) *Validator {
	v := &Validator{
		now:                 time.Now,
		maxTimestampDelay:   defaultMaxTimestampDelay,
		maxPriceChangePct:   defaultMaxPriceChangePct,
		historyWindow:       defaultHistoryWindow,
		divergenceThreshold: defaultDivergenceThreshold,
		freshnessWindow:     defaultFreshnessWindow,
		history:             make(map[string][]models.OHLCV),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the quality gate on one snapshot. Any error blocks
// downstream use; warnings do not.
func (v *Validator) Validate(snap *models.Snapshot) models.QualityReport {
	var report models.QualityReport

	if snap == nil {
		report.Errors = append(report.Errors, "snapshot is nil")
		return report
	}
	if snap.Symbol == "" {
		report.Errors = append(report.Errors, "symbol is required")
	}
	if snap.Timestamp <= 0 {
		report.Errors = append(report.Errors, "timestamp is required")
	}

	if snap.Timestamp > 0 {
		ts := time.UnixMilli(snap.Timestamp)
		if delta := absDuration(v.now().Sub(ts)); delta > v.maxTimestampDelay {
			report.Errors = append(report.Errors,
				fmt.Sprintf("timestamp delayed by %v, max %v", delta.Truncate(time.Millisecond), v.maxTimestampDelay))
		}
	}

	if bar := snap.OHLCV; bar != nil {
		for name, val := range map[string]float64{
			"open": bar.Open, "high": bar.High, "low": bar.Low,
			"close": bar.Close, "volume": bar.Volume,
		} {
			if !isFinite(val) {
				report.Errors = append(report.Errors, fmt.Sprintf("%s is not finite", name))
			}
		}

		if isFinite(bar.Close) && bar.Close <= 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("price must be positive, got %v", bar.Close))
		}
		if isFinite(bar.High) && isFinite(bar.Low) {
			if bar.Low < 0 {
				report.Errors = append(report.Errors, fmt.Sprintf("low must be non-negative, got %v", bar.Low))
			}
			if bar.High < bar.Low {
				report.Errors = append(report.Errors, fmt.Sprintf("high %v below low %v", bar.High, bar.Low))
			} else if isFinite(bar.Close) && bar.Close > 0 && (bar.Close > bar.High || bar.Close < bar.Low) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("close %v outside range [%v, %v]", bar.Close, bar.Low, bar.High))
			}
		}

		if snap.PreviousClose != nil && *snap.PreviousClose > 0 && isFinite(bar.Close) {
			pct := math.Abs(bar.Close-*snap.PreviousClose) / *snap.PreviousClose * 100
			if pct >= v.maxPriceChangePct {
				report.Errors = append(report.Errors,
					fmt.Sprintf("price change %.2f%% reaches limit %.2f%%", pct, v.maxPriceChangePct))
			}
		}
		if snap.PreviousVolume != nil && *snap.PreviousVolume > 0 && isFinite(bar.Volume) {
			if bar.Volume > *snap.PreviousVolume*volumeSpikeFactor {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("volume %v is more than %vx previous volume %v", bar.Volume, volumeSpikeFactor, *snap.PreviousVolume))
			}
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report
}

// UpdateHistory appends a bar to the symbol's bounded rolling window,
// dropping the oldest when full.
func (v *Validator) UpdateHistory(symbol string, bar models.OHLCV) {
	if symbol == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	window := append(v.history[symbol], bar)
	if len(window) > v.historyWindow {
		window = window[len(window)-v.historyWindow:]
	}
	v.history[symbol] = window
}

// HistoryLen returns the current window size for a symbol.
func (v *Validator) HistoryLen(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.history[symbol])
}

// DetectAnomalies compares a snapshot's price and volume against the
// symbol's rolling baseline. Confidence above 0.8 is actionable; lower
// values are informational.
func (v *Validator) DetectAnomalies(snap *models.Snapshot) models.AnomalyDetection {
	var det models.AnomalyDetection

	if snap == nil || snap.OHLCV == nil {
		return det
	}

	v.mu.Lock()
	window := v.history[snap.Symbol]
	closes := make([]float64, 0, len(window))
	volumes := make([]float64, 0, len(window))
	for _, bar := range window {
		closes = append(closes, bar.Close)
		volumes = append(volumes, bar.Volume)
	}
	v.mu.Unlock()

	if len(closes) < anomalyMinSamples {
		return det
	}

	priceZ, priceMean := zScore(closes, snap.OHLCV.Close)
	volumeZ, volumeMean := zScore(volumes, snap.OHLCV.Volume)

	z := priceZ
	desc := fmt.Sprintf("price %v deviates %.1f sigma from rolling mean %.2f", snap.OHLCV.Close, priceZ, priceMean)
	if volumeZ > priceZ {
		z = volumeZ
		desc = fmt.Sprintf("volume %v deviates %.1f sigma from rolling mean %.2f", snap.OHLCV.Volume, volumeZ, volumeMean)
	}

	if z <= 2 {
		return det
	}

	det.HasAnomaly = true
	det.Description = desc
	det.Confidence = math.Min(1, z/4)
	return det
}

// ValidateCrossSources computes the maximum pairwise relative price
// divergence among fresh snapshots of the same symbol. Inconsistency is
// surfaced, not fatal; the caller decides how to downgrade confidence.
func (v *Validator) ValidateCrossSources(bySource map[string]*models.Snapshot) models.CrossSourceReport {
	report := models.CrossSourceReport{IsConsistent: true}
	now := v.now()

	type obs struct {
		source string
		price  float64
	}
	fresh := make([]obs, 0, len(bySource))
	symbol := ""
	for source, snap := range bySource {
		if snap == nil {
			continue
		}
		price, ok := snap.Price()
		if !ok || price <= 0 {
			continue
		}
		if absDuration(now.Sub(time.UnixMilli(snap.Timestamp))) > v.freshnessWindow {
			continue
		}
		if symbol == "" {
			symbol = snap.Symbol
		} else if snap.Symbol != symbol {
			continue
		}
		fresh = append(fresh, obs{source: source, price: price})
	}

	report.Compared = len(fresh)
	if len(fresh) < 2 {
		return report
	}

	for i := 0; i < len(fresh); i++ {
		for j := i + 1; j < len(fresh); j++ {
			lo, hi := fresh[i].price, fresh[j].price
			if lo > hi {
				lo, hi = hi, lo
			}
			div := (hi - lo) / lo
			if div > report.MaxDivergence {
				report.MaxDivergence = div
				report.Sources = []string{fresh[i].source, fresh[j].source}
			}
		}
	}

	report.IsConsistent = report.MaxDivergence <= v.divergenceThreshold
	if report.IsConsistent {
		report.Sources = nil
	}
	return report
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// zScore returns how many standard deviations x sits from the mean of
// xs, plus the mean. A flat baseline with a differing x counts as a
// large deviation.
func zScore(xs []float64, x float64) (float64, float64) {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, v := range xs {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(xs))
	std := math.Sqrt(variance)

	if std == 0 {
		if x == mean {
			return 0, mean
		}
		return math.Inf(1), mean
	}
	return math.Abs(x-mean) / std, mean
}
