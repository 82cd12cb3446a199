package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the beacon service configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service" yaml:"service"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Navigation NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	Streaming  StreamingConfig  `mapstructure:"streaming" yaml:"streaming"`
	View       ViewConfig       `mapstructure:"view" yaml:"view"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServiceConfig contains basic service configuration.
type ServiceConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	MetricsPort     int           `mapstructure:"metrics_port" yaml:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// RedisConfig selects the conversation store backend. An empty address
// runs memory-only.
type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NavigationConfig tunes the locator and reveal controller.
type NavigationConfig struct {
	TimeoutMs        int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	HighlightMs      int    `mapstructure:"highlight_ms" yaml:"highlight_ms"`
	ScrollDurationMs int    `mapstructure:"scroll_duration_ms" yaml:"scroll_duration_ms"`
	Position         string `mapstructure:"position" yaml:"position"` // start|center
}

// StreamingConfig tunes the event fan-out.
type StreamingConfig struct {
	ReplayCapacity   int `mapstructure:"replay_capacity" yaml:"replay_capacity"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// ViewConfig models the virtualized message list.
type ViewConfig struct {
	Window         int     `mapstructure:"window" yaml:"window"` // eagerly mounted messages; 0 = all
	ViewportHeight float64 `mapstructure:"viewport_height" yaml:"viewport_height"`
	ContentHeight  float64 `mapstructure:"content_height" yaml:"content_height"`
}

// RateLimitConfig bounds navigation request rate on the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// LoggingConfig selects log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8085,
			MetricsPort:     9095,
			GracefulTimeout: 10 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
		},
		Navigation: NavigationConfig{
			TimeoutMs:        10000,
			HighlightMs:      2000,
			ScrollDurationMs: 250,
			Position:         "start",
		},
		Streaming: StreamingConfig{
			ReplayCapacity:   256,
			SubscriberBuffer: 256,
		},
		View: ViewConfig{
			Window:         50,
			ViewportHeight: 900,
			ContentHeight:  100000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 25,
			Burst:             50,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads beacon.yaml from CONFIG_PATH or ./config/beacon.yaml,
// merged over defaults. A missing file is not an error; a malformed
// one is.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/beacon.yaml"
	}

	cfg := Default()
	if _, err := os.Stat(cfgPath); err != nil {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Timeout returns the navigation timeout as a duration.
func (c NavigationConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// HighlightDuration returns the highlight duration.
func (c NavigationConfig) HighlightDuration() time.Duration {
	if c.HighlightMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.HighlightMs) * time.Millisecond
}

// ScrollDuration returns the smooth-scroll duration.
func (c NavigationConfig) ScrollDuration() time.Duration {
	if c.ScrollDurationMs < 0 {
		return 0
	}
	return time.Duration(c.ScrollDurationMs) * time.Millisecond
}
