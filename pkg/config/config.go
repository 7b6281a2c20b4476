package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Durations not set in YAML
// fall back to the default tags.
type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Stream struct {
		URL            string        `yaml:"url" validate:"required"`
		Token          string        `yaml:"token"`
		Symbols        []string      `yaml:"symbols" validate:"min=1"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"10s"`
	} `yaml:"stream"`

	Cache struct {
		MaxSize         int           `yaml:"max_size" default:"1000" validate:"gt=0"`
		DefaultTTL      time.Duration `yaml:"default_ttl" default:"60s"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"30s"`
	} `yaml:"cache"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"marketpulse"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		DataTopic    string        `yaml:"data_topic" default:"marketpulse.data"`
		AlertTopic   string        `yaml:"alert_topic" default:"marketpulse.alerts"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
		Async        bool          `yaml:"async"`
		HashByKey    bool          `yaml:"hash_by_key"`
	} `yaml:"kafka"`

	Sources []SourceConfig `yaml:"sources" validate:"dive"`

	Quality struct {
		MaxTimestampDelay     time.Duration `yaml:"max_timestamp_delay" default:"5m"`
		MaxPriceChangePercent float64       `yaml:"max_price_change_percent" default:"20"`
		HistoryWindow         int           `yaml:"history_window" default:"50" validate:"gt=0"`
		DivergenceThreshold   float64       `yaml:"divergence_threshold" default:"0.05"`
		FreshnessWindow       time.Duration `yaml:"freshness_window" default:"30s"`
	} `yaml:"quality"`

	Aggregator struct {
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"5s"`
		MinSources   int           `yaml:"min_sources" default:"1" validate:"gt=0"`
	} `yaml:"aggregator"`

	Orchestrator struct {
		AlertCapacity   int           `yaml:"alert_capacity" default:"100" validate:"gt=0"`
		MetricsInterval time.Duration `yaml:"metrics_interval" default:"1s"`
		CacheTTL        time.Duration `yaml:"cache_ttl" default:"60s"`
		LatencyWarn     time.Duration `yaml:"latency_warn" default:"2s"`
		LatencyCritical time.Duration `yaml:"latency_critical" default:"5s"`
	} `yaml:"orchestrator"`
}

// SourceConfig describes one REST quote provider for the aggregator.
type SourceConfig struct {
	ID           string        `yaml:"id" validate:"required"`
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	APIKey       string        `yaml:"api_key"`
	Priority     int           `yaml:"priority"`
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout" default:"5s"`
	RateCapacity float64       `yaml:"rate_capacity" default:"10"`
	RatePerSec   float64       `yaml:"rate_per_sec" default:"5"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes config bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers are required when kafka is enabled")
	}
	return &c, nil
}

// LoadWithEnv loads config and overrides secrets and endpoints from the
// environment.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("STREAM_TOKEN"); v != "" {
		c.Stream.Token = v
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	return c, nil
}
