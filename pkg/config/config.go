// Package config provides configuration loading and validation for the
// luminal engine.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidWindowSize  = errors.New("engine window size must be positive")
	ErrInvalidGracePeriod = errors.New("engine grace period must be at least the window size")
	ErrInvalidDedupTTL    = errors.New("engine dedup ttl must be positive")
	ErrInvalidTicker      = errors.New("engine ticker interval must be positive")
	ErrInvalidBufferLen   = errors.New("engine max buffer length must be positive")
	ErrInvalidBucketSize  = errors.New("counter bucket size must be positive")
	ErrInvalidWindow      = errors.New("counter window must be at least one bucket")
	ErrInvalidThreshold   = errors.New("power user threshold must be positive")
	ErrInvalidSampleRatio = errors.New("telemetry sample ratio must be within [0, 1]")
	ErrUnknownLogLevel    = errors.New("unknown log level")
	ErrUnknownLogFormat   = errors.New("unknown log format")
)

// Default configuration values.
const (
	defaultWindowSize     = "5s"
	defaultGracePeriod    = "2m"
	defaultDedupTTL       = "10m"
	defaultTickerInterval = "1s"
	defaultMaxBufferLen   = 4096
	defaultSubscriberBuf  = 64

	defaultBucketSize    = "1m"
	defaultCounterWindow = "24h"

	defaultPowerUserThreshold = 5
	defaultPowerUserWindow    = "24h"
	defaultReengageInactivity = "10m"

	defaultServiceName = "luminal"
)

// Config holds all configuration for the luminal engine.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Counter   CounterConfig   `mapstructure:"counter"`
	Segments  SegmentsConfig  `mapstructure:"segments"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// EngineConfig holds the event processor's timing knobs.
type EngineConfig struct {
	WindowSize     time.Duration `mapstructure:"window_size"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
	TickerInterval time.Duration `mapstructure:"ticker_interval"`
	MaxBufferLen   int           `mapstructure:"max_buffer_len"`
	SubscriberBuf  int           `mapstructure:"subscriber_buf"`
}

// CounterConfig holds the rolling counter's bucketing.
type CounterConfig struct {
	BucketSize time.Duration `mapstructure:"bucket_size"`
	Window     time.Duration `mapstructure:"window"`
}

// SegmentsConfig holds the built-in segment rule thresholds.
type SegmentsConfig struct {
	PowerUserThreshold uint64        `mapstructure:"power_user_threshold"`
	PowerUserWindow    time.Duration `mapstructure:"power_user_window"`
	ReengageInactivity time.Duration `mapstructure:"reengage_inactivity"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	ServiceName       string  `mapstructure:"service_name"`
	Environment       string  `mapstructure:"environment"`
	OTLPEndpoint      string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders       string  `mapstructure:"otlp_headers"`
	SampleRatio       float64 `mapstructure:"sample_ratio"`
	OTLPInsecure      bool    `mapstructure:"otlp_insecure"`
	PrometheusEnabled bool    `mapstructure:"prometheus_enabled"`
}

// SlogLevel maps the configured level string to a slog level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLogLevel, l.Level)
	}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("config")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/luminal")
	}

	viperCfg.SetEnvPrefix("LUMINAL")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Engine defaults.
	viperCfg.SetDefault("engine.window_size", defaultWindowSize)
	viperCfg.SetDefault("engine.grace_period", defaultGracePeriod)
	viperCfg.SetDefault("engine.dedup_ttl", defaultDedupTTL)
	viperCfg.SetDefault("engine.ticker_interval", defaultTickerInterval)
	viperCfg.SetDefault("engine.max_buffer_len", defaultMaxBufferLen)
	viperCfg.SetDefault("engine.subscriber_buf", defaultSubscriberBuf)

	// Counter defaults.
	viperCfg.SetDefault("counter.bucket_size", defaultBucketSize)
	viperCfg.SetDefault("counter.window", defaultCounterWindow)

	// Segment defaults.
	viperCfg.SetDefault("segments.power_user_threshold", defaultPowerUserThreshold)
	viperCfg.SetDefault("segments.power_user_window", defaultPowerUserWindow)
	viperCfg.SetDefault("segments.reengage_inactivity", defaultReengageInactivity)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	// Telemetry defaults.
	viperCfg.SetDefault("telemetry.service_name", defaultServiceName)
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.prometheus_enabled", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Engine.WindowSize <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWindowSize, config.Engine.WindowSize)
	}

	if config.Engine.GracePeriod < config.Engine.WindowSize {
		return fmt.Errorf("%w: %s", ErrInvalidGracePeriod, config.Engine.GracePeriod)
	}

	if config.Engine.DedupTTL <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDedupTTL, config.Engine.DedupTTL)
	}

	if config.Engine.TickerInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTicker, config.Engine.TickerInterval)
	}

	if config.Engine.MaxBufferLen <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferLen, config.Engine.MaxBufferLen)
	}

	if config.Counter.BucketSize <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBucketSize, config.Counter.BucketSize)
	}

	if config.Counter.Window < config.Counter.BucketSize {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, config.Counter.Window)
	}

	if config.Segments.PowerUserThreshold == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, config.Segments.PowerUserThreshold)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	switch strings.ToLower(config.Logging.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, config.Logging.Format)
	}

	if _, err := config.Logging.SlogLevel(); err != nil {
		return err
	}

	return nil
}
