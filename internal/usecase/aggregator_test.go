package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/quality"
)

type fetcherFunc func(ctx context.Context, symbol string) (*models.Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, symbol string) (*models.Snapshot, error) {
	return f(ctx, symbol)
}

func fixedFetcher(price float64) fetcherFunc {
	return func(_ context.Context, symbol string) (*models.Snapshot, error) {
		return &models.Snapshot{
			Symbol:    symbol,
			Timestamp: time.Now().UnixMilli(),
			OHLCV:     &models.OHLCV{Close: price, High: price, Low: price, Open: price, Volume: 100},
		}, nil
	}
}

func failingFetcher(msg string) fetcherFunc {
	return func(context.Context, string) (*models.Snapshot, error) {
		return nil, fmt.Errorf("%s", msg)
	}
}

func newTestAggregator(opts ...AggregatorOption) *Aggregator {
	return NewAggregator(quality.New(), nil, nil, opts...)
}

func TestRegisterValidation(t *testing.T) {
	agg := newTestAggregator()

	if err := agg.Register(DataSource{ID: "", Fetcher: fixedFetcher(1)}); err == nil {
		t.Fatalf("expected empty id rejected")
	}
	if err := agg.Register(DataSource{ID: "a", Enabled: true}); err == nil {
		t.Fatalf("expected missing fetcher rejected")
	}
	if err := agg.Register(DataSource{ID: "a", Enabled: true, Fetcher: fixedFetcher(1)}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := agg.Register(DataSource{ID: "a", Enabled: true, Fetcher: fixedFetcher(1)}); err == nil {
		t.Fatalf("expected duplicate id rejected")
	}
}

func TestAggregateNoSources(t *testing.T) {
	agg := newTestAggregator()

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err == nil || result.Success {
		t.Fatalf("expected failure with no sources")
	}
}

func TestAggregateInsufficientSources(t *testing.T) {
	agg := newTestAggregator(WithMinSources(2))

	if err := agg.Register(DataSource{ID: "only", Enabled: true, Fetcher: fixedFetcher(100)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := agg.Aggregate(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected failure below min sources")
	}
}

func TestAggregatePrimaryWins(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "primary", Priority: 1, Enabled: true, Fetcher: fixedFetcher(100)})
	_ = agg.Register(DataSource{ID: "secondary", Priority: 2, Enabled: true, Fetcher: fixedFetcher(100.5)})

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !result.Success || result.PrimarySource != "primary" {
		t.Fatalf("expected primary authoritative, got %+v", result)
	}
	if result.FallbackUsed {
		t.Fatalf("expected no fallback")
	}
	if price, _ := result.Data.Price(); price != 100 {
		t.Fatalf("expected primary price 100, got %v", price)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("expected both sources collected, got %v", result.Sources)
	}
	if result.Validation == nil || !result.Validation.IsConsistent {
		t.Fatalf("expected consistent validation, got %+v", result.Validation)
	}
}

func TestAggregateFailover(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "primary", Priority: 1, Enabled: true, Fetcher: failingFetcher("upstream 500")})
	_ = agg.Register(DataSource{ID: "backup", Priority: 2, Enabled: true, Fetcher: fixedFetcher(42)})

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.PrimarySource != "backup" || !result.FallbackUsed {
		t.Fatalf("expected failover to backup, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected primary error recorded, got %v", result.Errors)
	}

	for _, s := range agg.Stats() {
		switch s.ID {
		case "primary":
			if s.Health != 85 {
				t.Fatalf("expected primary penalized to 85, got %v", s.Health)
			}
		case "backup":
			if s.Health != 100 {
				t.Fatalf("expected backup capped at 100, got %v", s.Health)
			}
		}
	}
}

func TestRepeatedFailuresRemoveFromHealthySet(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "flaky", Priority: 1, Enabled: true, Fetcher: failingFetcher("down")})

	// 100 -> 85 -> 70 -> 55 -> 40: below the threshold after 4 failures.
	for i := 0; i < 4; i++ {
		if _, err := agg.Aggregate(context.Background(), "AAPL"); err == nil {
			t.Fatalf("expected failure")
		}
	}

	if ids := agg.HealthySources(); len(ids) != 0 {
		t.Fatalf("expected flaky source excluded, got %v", ids)
	}
	if _, err := agg.Aggregate(context.Background(), "AAPL"); err == nil {
		t.Fatalf("expected no healthy sources error")
	}
}

func TestAggregateAllFail(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "a", Priority: 1, Enabled: true, Fetcher: failingFetcher("down")})
	_ = agg.Register(DataSource{ID: "b", Priority: 2, Enabled: true, Fetcher: failingFetcher("also down")})

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err == nil || result.Success {
		t.Fatalf("expected all-sources failure")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected both errors recorded, got %v", result.Errors)
	}
}

func TestAggregateDivergentSourcesFlagged(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "a", Priority: 1, Enabled: true, Fetcher: fixedFetcher(100)})
	_ = agg.Register(DataSource{ID: "b", Priority: 2, Enabled: true, Fetcher: fixedFetcher(130)})

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.Validation == nil || result.Validation.IsConsistent {
		t.Fatalf("expected divergence flagged, got %+v", result.Validation)
	}
	// Divergence never blocks the answer.
	if !result.Success || result.PrimarySource != "a" {
		t.Fatalf("expected primary answer kept, got %+v", result)
	}
}

func TestAggregateSlowSourceCountsAsFailure(t *testing.T) {
	agg := newTestAggregator(WithFetchTimeout(50 * time.Millisecond))

	slow := fetcherFunc(func(ctx context.Context, _ string) (*models.Snapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_ = agg.Register(DataSource{ID: "slow", Priority: 1, Enabled: true, Fetcher: slow})
	_ = agg.Register(DataSource{ID: "fast", Priority: 2, Enabled: true, Fetcher: fixedFetcher(10)})

	result, err := agg.Aggregate(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.PrimarySource != "fast" || !result.FallbackUsed {
		t.Fatalf("expected fast source to win, got %+v", result)
	}

	for _, s := range agg.Stats() {
		if s.ID == "slow" && s.Health != 85 {
			t.Fatalf("expected slow source penalized, got %v", s.Health)
		}
	}
}

func TestCustomScorePolicy(t *testing.T) {
	agg := newTestAggregator(WithScorePolicy(func(current float64, ok bool) float64 {
		if ok {
			return current
		}
		return 0
	}))

	_ = agg.Register(DataSource{ID: "strict", Priority: 1, Enabled: true, Fetcher: failingFetcher("down")})

	_, _ = agg.Aggregate(context.Background(), "AAPL")

	stats := agg.Stats()
	if len(stats) != 1 || stats[0].Health != 0 {
		t.Fatalf("expected policy to zero health, got %+v", stats)
	}
}

func TestSetEnabled(t *testing.T) {
	agg := newTestAggregator()

	_ = agg.Register(DataSource{ID: "a", Priority: 1, Enabled: true, Fetcher: fixedFetcher(1)})

	if !agg.SetEnabled("a", false) {
		t.Fatalf("expected known source")
	}
	if ids := agg.HealthySources(); len(ids) != 0 {
		t.Fatalf("expected disabled source excluded, got %v", ids)
	}
	if agg.SetEnabled("missing", true) {
		t.Fatalf("expected unknown source reported")
	}
}
