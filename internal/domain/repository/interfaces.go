package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// Transport is the inbound connection collaborator. Reconnect/backoff
// policy is entirely the transport's responsibility; the orchestrator
// only consumes its event stream.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, v any) error
	Events() <-chan models.TransportEvent
	IsConnected() bool
	Destroy() error
}

// SourceFetcher pulls one snapshot for a symbol from an independent
// provider. Implementations reject on failure; auth and rate limits are
// private to the fetcher.
type SourceFetcher interface {
	Fetch(ctx context.Context, symbol string) (*models.Snapshot, error)
}

// EventSink republishes clean data events and alerts out of process.
type EventSink interface {
	PublishData(ctx context.Context, snap *models.Snapshot) error
	PublishAlert(ctx context.Context, alert models.Alert) error
	Close() error
}

// Metrics records pipeline health for scraping.
type Metrics interface {
	RecordMessage(kind string)
	RecordDrop(reason string)
	RecordAnomaly(symbol string)
	RecordAlert(severity string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	SetCacheHitRate(v float64)
	SetQualityScore(v float64)
	SetSourceHealth(source string, score float64)
}
