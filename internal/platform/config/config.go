package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds ambient settings for a host process. The listener's bind
// address is deliberately absent: it is a compiled-in constant.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"RELIC_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELIC_LOG_FORMAT"`
}

type MetricsConfig struct {
	// ListenAddress serves /metrics from the development host when non-empty.
	ListenAddress string `yaml:"listenAddress" env:"RELIC_METRICS_ADDR"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint" env:"RELIC_OTEL_ENDPOINT"`
	Enabled  *bool  `yaml:"enabled" env:"RELIC_OTEL_ENABLED"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Default is what the foreign entry point runs with; it reads nothing from the
// environment or disk.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadFromPath reads a YAML file over Default. An empty path skips the file.
// A missing or unparsable file is an error, unlike the env overrides which are
// applied by ApplyEnvOverrides separately.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	Merge(&cfg, parsed)
	return cfg, cfg.Validate()
}

// Merge copies the non-zero fields of src onto dst.
func Merge(dst *Config, src Config) {
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Metrics.ListenAddress != "" {
		dst.Metrics.ListenAddress = src.Metrics.ListenAddress
	}
	if src.Tracing.Endpoint != "" {
		dst.Tracing.Endpoint = src.Tracing.Endpoint
	}
	if src.Tracing.Enabled != nil {
		v := *src.Tracing.Enabled
		dst.Tracing.Enabled = &v
	}
}

// ApplyEnvOverrides layers RELIC_* variables over cfg.
func ApplyEnvOverrides(cfg *Config) error {
	var overrides Config
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	Merge(cfg, overrides)
	return cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// TracingEnabled reports whether an exporter should be installed.
func (c Config) TracingEnabled() bool {
	if c.Tracing.Enabled != nil && !*c.Tracing.Enabled {
		return false
	}
	return strings.TrimSpace(c.Tracing.Endpoint) != ""
}
