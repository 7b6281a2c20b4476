package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/ratelimit"
	xhttp "MarketPulse/pkg/http"
	"MarketPulse/pkg/logger"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultRateCapacity = 10
	defaultRatePerSec   = 5
)

// ErrRateLimited is returned when the fetcher's private budget is spent.
var ErrRateLimited = errors.New("rate limited")

// Config describes one REST quote provider.
type Config struct {
	ID           string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RateCapacity float64
	RatePerSec   float64
}

// RESTFetcher pulls snapshots from a JSON quote endpoint. Auth and rate
// limiting stay inside the fetcher; callers only see Fetch.
type RESTFetcher struct {
	id      string
	baseURL string
	apiKey  string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

// NewRESTFetcher validates the config and builds the fetcher.
func NewRESTFetcher(cfg Config, log *logger.Logger) (*RESTFetcher, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("source id is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source %s: base url is required", cfg.ID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = defaultRateCapacity
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}

	return &RESTFetcher{
		id:      cfg.ID,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: ratelimit.New(cfg.RateCapacity, cfg.RatePerSec),
		log:     log,
	}, nil
}

// ID returns the source identifier.
func (f *RESTFetcher) ID() string { return f.id }

type quoteResponse struct {
	Symbol         string   `json:"symbol"`
	Timestamp      int64    `json:"timestamp"`
	Open           float64  `json:"open"`
	High           float64  `json:"high"`
	Low            float64  `json:"low"`
	Close          float64  `json:"close"`
	Volume         float64  `json:"volume"`
	PreviousClose  *float64 `json:"previous_close,omitempty"`
	PreviousVolume *float64 `json:"previous_volume,omitempty"`
}

// Fetch requests one quote. The rate budget is checked before any I/O.
func (f *RESTFetcher) Fetch(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !f.limiter.Allow() {
		return nil, fmt.Errorf("source %s: %w", f.id, ErrRateLimited)
	}

	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         f.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {symbol}},
	}
	if f.apiKey != "" {
		opts.Headers = map[string]string{"X-API-Key": f.apiKey}
	}

	var quote quoteResponse
	if err := f.client.SendAndParse(ctx, opts, &quote); err != nil {
		return nil, fmt.Errorf("source %s: fetch %s: %w", f.id, symbol, err)
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}
	if quote.Timestamp <= 0 {
		quote.Timestamp = time.Now().UnixMilli()
	}

	snap := &models.Snapshot{
		Symbol:    quote.Symbol,
		Timestamp: quote.Timestamp,
		OHLCV: &models.OHLCV{
			Date:   quote.Timestamp,
			Open:   quote.Open,
			High:   quote.High,
			Low:    quote.Low,
			Close:  quote.Close,
			Volume: quote.Volume,
		},
		PreviousClose:  quote.PreviousClose,
		PreviousVolume: quote.PreviousVolume,
	}

	if f.log != nil {
		f.log.Debug("fetched quote",
			logger.String("source", f.id),
			logger.String("symbol", symbol))
	}
	return snap, nil
}
