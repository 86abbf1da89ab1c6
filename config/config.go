package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Liqflow   LiqflowConfig   `yaml:"liqflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Window    WindowConfig    `yaml:"window"`
	Source    SourceConfig    `yaml:"source"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type LiqflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type ReaderConfig struct {
	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// ProcessorConfig controls the normalization stage. Ingestion is
// single-worker regardless of max_workers so the window keeps receipt
// order; values above 1 are ignored with a warning.
type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// WindowConfig describes the retention window and the two scheduler cadences.
type WindowConfig struct {
	Retention         time.Duration `yaml:"retention"`
	EvictInterval     time.Duration `yaml:"evict_interval"`
	AggregateInterval time.Duration `yaml:"aggregate_interval"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
}

type BinanceSourceConfig struct {
	Liquidation BinanceLiquidationConfig `yaml:"liquidation"`
}

type BinanceLiquidationConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type BybitSourceConfig struct {
	Liquidation BybitLiquidationConfig `yaml:"liquidation"`
}

type BybitLiquidationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Symbols      []string      `yaml:"symbols"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type StorageConfig struct {
	File  FileStorageConfig  `yaml:"file"`
	S3    S3Config           `yaml:"s3"`
	Kafka KafkaStorageConfig `yaml:"kafka"`
}

type FileStorageConfig struct {
	WindowPath string `yaml:"window_path"`
	RollupPath string `yaml:"rollup_path"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaStorageConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type APIConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Address           string  `yaml:"address"`
	TopN              int     `yaml:"top_n"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MetricsConfig struct {
	ChannelSize bool             `yaml:"channel_size"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	// DefaultRetention bounds the trailing window of retained events.
	DefaultRetention = 5 * time.Minute
	// DefaultEvictInterval is the cadence of the eviction tick. It is also
	// the documented staleness bound of the window between ticks.
	DefaultEvictInterval = 30 * time.Second
	// DefaultAggregateInterval is the cadence of the aggregation tick.
	DefaultAggregateInterval = 5 * time.Second
	// DefaultTopN limits the consolidated API response.
	DefaultTopN = 12
)

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ChannelSize: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Window.Retention <= 0 {
		cfg.Window.Retention = DefaultRetention
	}
	if cfg.Window.EvictInterval <= 0 {
		cfg.Window.EvictInterval = DefaultEvictInterval
	}
	if cfg.Window.AggregateInterval <= 0 {
		cfg.Window.AggregateInterval = DefaultAggregateInterval
	}
	if cfg.Reader.Retry.BaseDelay <= 0 {
		cfg.Reader.Retry.BaseDelay = time.Second
	}
	if cfg.Reader.Retry.MaxDelay <= 0 {
		cfg.Reader.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Channels.RawBuffer <= 0 {
		cfg.Channels.RawBuffer = 1000
	}
	if cfg.Processor.MaxWorkers <= 0 {
		cfg.Processor.MaxWorkers = 1
	}
	if cfg.Storage.File.WindowPath == "" {
		cfg.Storage.File.WindowPath = "data/liquidations.json"
	}
	if cfg.Storage.File.RollupPath == "" {
		cfg.Storage.File.RollupPath = "data/recent_liquidations.json"
	}
	if cfg.API.TopN <= 0 {
		cfg.API.TopN = DefaultTopN
	}
	if cfg.API.Address == "" {
		cfg.API.Address = ":22223"
	}
	if cfg.Source.Binance.Liquidation.URL == "" {
		cfg.Source.Binance.Liquidation.URL = "wss://fstream.binance.com/ws/!forceOrder@arr"
	}
	if cfg.Source.Bybit.Liquidation.URL == "" {
		cfg.Source.Bybit.Liquidation.URL = "wss://stream.bybit.com/v5/public/linear"
	}
	if cfg.Source.Bybit.Liquidation.PingInterval <= 0 {
		cfg.Source.Bybit.Liquidation.PingInterval = 20 * time.Second
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Window.EvictInterval > cfg.Window.Retention {
		return fmt.Errorf("window evict_interval %s exceeds retention %s", cfg.Window.EvictInterval, cfg.Window.Retention)
	}
	if cfg.Reader.Retry.BaseDelay > cfg.Reader.Retry.MaxDelay {
		return fmt.Errorf("reader retry base_delay %s exceeds max_delay %s", cfg.Reader.Retry.BaseDelay, cfg.Reader.Retry.MaxDelay)
	}
	if !cfg.Source.Binance.Liquidation.Enabled && !cfg.Source.Bybit.Liquidation.Enabled {
		return fmt.Errorf("no liquidation source enabled")
	}
	if cfg.Source.Bybit.Liquidation.Enabled && len(cfg.Source.Bybit.Liquidation.Symbols) == 0 {
		return fmt.Errorf("bybit liquidation source enabled without symbols")
	}
	if cfg.Storage.S3.Enabled && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3 storage enabled without a bucket")
	}
	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka storage enabled without brokers")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("kafka storage enabled without a topic")
		}
	}
	return nil
}
