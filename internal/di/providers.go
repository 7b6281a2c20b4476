package di

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/conntrack"
	"MarketPulse/internal/service/quality"
	"MarketPulse/internal/service/sources"
	"MarketPulse/internal/service/stream"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
)

// ProvideLogger builds the process logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideMemoryCache creates the bounded in-memory cache.
func ProvideMemoryCache(cfg *config.Config) (*cache.MemoryCache, error) {
	mem, err := cache.NewMemoryCache(
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return mem, nil
}

// ProvidePipelineCache returns the cache the pipeline writes to. With
// Redis enabled the memory cache becomes L1 of a layered cache.
func ProvidePipelineCache(cfg *config.Config, mem *cache.MemoryCache) (usecase.PipelineCache, error) {
	if !cfg.Redis.Enabled {
		return mem, nil
	}

	redisCache, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}

	decode := func(data []byte) (interface{}, error) {
		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
		return &snap, nil
	}
	return cache.NewLayeredCache(mem, redisCache, decode), nil
}

// ProvideTracker creates the connection quality tracker.
func ProvideTracker() *conntrack.Tracker {
	return conntrack.New()
}

// ProvideValidator creates the quality validator from config.
func ProvideValidator(cfg *config.Config) *quality.Validator {
	return quality.New(
		quality.WithMaxTimestampDelay(cfg.Quality.MaxTimestampDelay),
		quality.WithMaxPriceChangePercent(cfg.Quality.MaxPriceChangePercent),
		quality.WithHistoryWindow(cfg.Quality.HistoryWindow),
		quality.WithDivergenceThreshold(cfg.Quality.DivergenceThreshold),
		quality.WithFreshnessWindow(cfg.Quality.FreshnessWindow),
	)
}

// ProvideAggregator creates the multi-source aggregator, registers the
// configured REST providers and hooks cache prefetching for market keys.
func ProvideAggregator(
	cfg *config.Config,
	validator *quality.Validator,
	m drepo.Metrics,
	log *applogger.Logger,
	mem *cache.MemoryCache,
) (*usecase.Aggregator, error) {
	agg := usecase.NewAggregator(validator, m, log,
		usecase.WithFetchTimeout(cfg.Aggregator.FetchTimeout),
		usecase.WithMinSources(cfg.Aggregator.MinSources),
	)

	for _, sc := range cfg.Sources {
		fetcher, err := sources.NewRESTFetcher(sources.Config{
			ID:           sc.ID,
			BaseURL:      sc.BaseURL,
			APIKey:       sc.APIKey,
			Timeout:      sc.Timeout,
			RateCapacity: sc.RateCapacity,
			RatePerSec:   sc.RatePerSec,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.ID, err)
		}
		if err := agg.Register(usecase.DataSource{
			ID:       sc.ID,
			Priority: sc.Priority,
			Enabled:  sc.Enabled,
			Fetcher:  fetcher,
		}); err != nil {
			return nil, fmt.Errorf("register source %s: %w", sc.ID, err)
		}
	}

	// Cold lookups for market keys fall through to the aggregator.
	mem.RegisterStrategy(cache.PrefetchStrategy{
		Name:    "market-quote",
		Enabled: true,
		Match: func(key string) bool {
			return strings.HasPrefix(key, "market:")
		},
		Fetch: func(ctx context.Context, key string) (interface{}, error) {
			res, err := agg.Aggregate(ctx, strings.TrimPrefix(key, "market:"))
			if err != nil {
				return nil, err
			}
			return res.Data, nil
		},
	})

	return agg, nil
}

// ProvideTransport creates the WebSocket stream client.
func ProvideTransport(cfg *config.Config, log *applogger.Logger) drepo.Transport {
	return stream.New(stream.Config{
		URL:            cfg.Stream.URL,
		Token:          cfg.Stream.Token,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
	}, log)
}

// ProvideEventBus creates the in-process event bus.
func ProvideEventBus(log *applogger.Logger) *usecase.EventBus {
	return usecase.NewEventBus(log)
}

// ProvideEventSink creates the Kafka sink, or nil when Kafka is
// disabled.
func ProvideEventSink(cfg *config.Config) (drepo.EventSink, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(cfg.Kafka.HashByKey),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	sink, err := internalrepo.NewKafkaEventSink(producer, cfg.Kafka.DataTopic, cfg.Kafka.AlertTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	return sink, nil
}

// ProvideOrchestrator wires the pipeline orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	transport drepo.Transport,
	tracker *conntrack.Tracker,
	validator *quality.Validator,
	pipelineCache usecase.PipelineCache,
	aggregator *usecase.Aggregator,
	bus *usecase.EventBus,
	sink drepo.EventSink,
	m drepo.Metrics,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(
		transport, tracker, validator, pipelineCache, aggregator, bus, sink, m, log,
		usecase.WithAlertCapacity(cfg.Orchestrator.AlertCapacity),
		usecase.WithMetricsInterval(cfg.Orchestrator.MetricsInterval),
		usecase.WithCacheTTL(cfg.Orchestrator.CacheTTL),
		usecase.WithPingInterval(cfg.Stream.PingInterval),
		usecase.WithLatencyThresholds(cfg.Orchestrator.LatencyWarn, cfg.Orchestrator.LatencyCritical),
	)
}

// ProvideHandler creates the ops API handler.
func ProvideHandler(
	log *applogger.Logger,
	orch *usecase.Orchestrator,
	agg *usecase.Aggregator,
	mem *cache.MemoryCache,
) xhttp.Handler {
	return api.NewPipelineHandler(log, orch, agg, mem)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, log *applogger.Logger, handler xhttp.Handler) *xhttp.Server {
	return xhttp.NewServer(handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.Path),
		xhttp.WithLogger(log),
	)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	orch *usecase.Orchestrator,
	httpServer *xhttp.Server,
	sink drepo.EventSink,
) *server.App {
	return server.New(cfg, log, orch, httpServer, sink)
}
