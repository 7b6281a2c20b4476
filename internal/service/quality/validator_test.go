package quality

import (
	"math"
	"strings"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(opts ...Option) *Validator {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(opts...)
}

func snapshot(symbol string, close float64) *models.Snapshot {
	return &models.Snapshot{
		Symbol:    symbol,
		Timestamp: testNow.UnixMilli(),
		OHLCV: &models.OHLCV{
			Date:   testNow.UnixMilli(),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		},
	}
}

func TestValidateAcceptsCleanSnapshot(t *testing.T) {
	v := newTestValidator()

	report := v.Validate(snapshot("AAPL", 150))
	if !report.IsValid {
		t.Fatalf("expected valid, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", report.Warnings)
	}
}

func TestValidateNilSnapshot(t *testing.T) {
	v := newTestValidator()

	report := v.Validate(nil)
	if report.IsValid {
		t.Fatalf("expected nil snapshot invalid")
	}
}

func TestValidateMissingFields(t *testing.T) {
	v := newTestValidator()

	report := v.Validate(&models.Snapshot{})
	if report.IsValid {
		t.Fatalf("expected invalid")
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected symbol and timestamp errors, got %v", report.Errors)
	}
}

func TestValidateStaleTimestamp(t *testing.T) {
	v := newTestValidator(WithMaxTimestampDelay(time.Minute))

	snap := snapshot("AAPL", 150)
	snap.Timestamp = testNow.Add(-2 * time.Minute).UnixMilli()

	report := v.Validate(snap)
	if report.IsValid {
		t.Fatalf("expected stale snapshot rejected")
	}
}

func TestValidateNonFiniteAndNonPositive(t *testing.T) {
	v := newTestValidator()

	snap := snapshot("AAPL", 150)
	snap.OHLCV.Close = math.NaN()
	if v.Validate(snap).IsValid {
		t.Fatalf("expected NaN close rejected")
	}

	snap = snapshot("AAPL", 150)
	snap.OHLCV.Close = -1
	snap.OHLCV.Low = -1
	if v.Validate(snap).IsValid {
		t.Fatalf("expected negative price rejected")
	}
}

func TestValidateHighBelowLow(t *testing.T) {
	v := newTestValidator()

	snap := snapshot("AAPL", 150)
	snap.OHLCV.High = 100
	snap.OHLCV.Low = 200
	snap.OHLCV.Close = 150

	report := v.Validate(snap)
	if report.IsValid {
		t.Fatalf("expected high<low rejected")
	}
}

func TestValidatePriceChangeLimit(t *testing.T) {
	v := newTestValidator(WithMaxPriceChangePercent(20))

	prev := 100.0
	snap := snapshot("AAPL", 130)
	snap.PreviousClose = &prev

	report := v.Validate(snap)
	if report.IsValid {
		t.Fatalf("expected 30%% jump rejected")
	}

	// A move of exactly the threshold is rejected.
	snap = snapshot("AAPL", 120)
	snap.PreviousClose = &prev
	if report := v.Validate(snap); report.IsValid {
		t.Fatalf("expected 20%% move at the limit rejected")
	}

	snap = snapshot("AAPL", 110)
	snap.PreviousClose = &prev
	if report := v.Validate(snap); !report.IsValid {
		t.Fatalf("expected 10%% move accepted, got %v", report.Errors)
	}
}

func TestValidateVolumeSpikeIsWarningOnly(t *testing.T) {
	v := newTestValidator()

	prevVol := 100.0
	snap := snapshot("AAPL", 150)
	snap.OHLCV.Volume = 5000
	snap.PreviousVolume = &prevVol

	report := v.Validate(snap)
	if !report.IsValid {
		t.Fatalf("warnings must not block, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "volume") {
		t.Fatalf("expected volume warning, got %v", report.Warnings)
	}
}

func TestUpdateHistoryBounded(t *testing.T) {
	v := newTestValidator(WithHistoryWindow(10))

	for i := 0; i < 25; i++ {
		v.UpdateHistory("AAPL", models.OHLCV{Close: float64(i)})
	}
	if n := v.HistoryLen("AAPL"); n != 10 {
		t.Fatalf("expected window capped at 10, got %d", n)
	}
}

func TestDetectAnomaliesNeedsBaseline(t *testing.T) {
	v := newTestValidator()

	for i := 0; i < anomalyMinSamples-1; i++ {
		v.UpdateHistory("AAPL", models.OHLCV{Close: 100, Volume: 1000})
	}
	if det := v.DetectAnomalies(snapshot("AAPL", 500)); det.HasAnomaly {
		t.Fatalf("expected no anomaly without baseline")
	}
}

func TestDetectAnomaliesPriceDeviation(t *testing.T) {
	v := newTestValidator()

	// Baseline oscillating around 100 with a small spread.
	closes := []float64{99, 100, 101, 100, 99, 101, 100, 100}
	for _, c := range closes {
		v.UpdateHistory("AAPL", models.OHLCV{Close: c, Volume: 1000})
	}

	det := v.DetectAnomalies(snapshot("AAPL", 150))
	if !det.HasAnomaly {
		t.Fatalf("expected anomaly on 50%% deviation")
	}
	if det.Confidence != 1 {
		t.Fatalf("expected full confidence, got %v", det.Confidence)
	}
	if !strings.Contains(det.Description, "price") {
		t.Fatalf("unexpected description %q", det.Description)
	}

	if det := v.DetectAnomalies(snapshot("AAPL", 100)); det.HasAnomaly {
		t.Fatalf("baseline value must not be anomalous: %+v", det)
	}
}

func TestDetectAnomaliesVolumeDeviation(t *testing.T) {
	v := newTestValidator()

	for _, vol := range []float64{900, 1000, 1100, 1000, 950, 1050} {
		v.UpdateHistory("AAPL", models.OHLCV{Close: 100, Volume: vol})
	}

	snap := snapshot("AAPL", 100)
	snap.OHLCV.Volume = 50000

	det := v.DetectAnomalies(snap)
	if !det.HasAnomaly {
		t.Fatalf("expected volume anomaly")
	}
	if !strings.Contains(det.Description, "volume") {
		t.Fatalf("unexpected description %q", det.Description)
	}
}

func TestCrossSourcesConsistent(t *testing.T) {
	v := newTestValidator(WithDivergenceThreshold(0.05))

	report := v.ValidateCrossSources(map[string]*models.Snapshot{
		"primary":   snapshot("AAPL", 100),
		"secondary": snapshot("AAPL", 101),
	})
	if !report.IsConsistent {
		t.Fatalf("expected 1%% divergence consistent, got %+v", report)
	}
	if report.Compared != 2 {
		t.Fatalf("expected 2 compared, got %d", report.Compared)
	}
}

func TestCrossSourcesDivergent(t *testing.T) {
	v := newTestValidator(WithDivergenceThreshold(0.05))

	report := v.ValidateCrossSources(map[string]*models.Snapshot{
		"primary":   snapshot("AAPL", 100),
		"secondary": snapshot("AAPL", 130),
	})
	if report.IsConsistent {
		t.Fatalf("expected 30%% divergence flagged")
	}
	if report.MaxDivergence < 0.29 || report.MaxDivergence > 0.31 {
		t.Fatalf("unexpected divergence %v", report.MaxDivergence)
	}
	if len(report.Sources) != 2 {
		t.Fatalf("expected both sources named, got %v", report.Sources)
	}
}

func TestCrossSourcesIgnoresStale(t *testing.T) {
	v := newTestValidator(WithDivergenceThreshold(0.05), WithFreshnessWindow(10*time.Second))

	stale := snapshot("AAPL", 130)
	stale.Timestamp = testNow.Add(-time.Minute).UnixMilli()

	report := v.ValidateCrossSources(map[string]*models.Snapshot{
		"primary": snapshot("AAPL", 100),
		"stale":   stale,
	})
	if !report.IsConsistent {
		t.Fatalf("expected stale entry excluded, got %+v", report)
	}
	if report.Compared != 1 {
		t.Fatalf("expected 1 fresh entry, got %d", report.Compared)
	}
}
