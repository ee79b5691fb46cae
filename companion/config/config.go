// Package config loads daemon configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds the wristlink daemon configuration. Precedence is defaults,
// then the TOML file, then environment variables.
type Config struct {
	// Service identity
	ServiceName string `toml:"service_name" env:"WRISTLINK_SERVICE_NAME"`
	LogLevel    string `toml:"log_level" env:"WRISTLINK_LOG_LEVEL"`

	// Link transport. Mode "listen" accepts the counterpart's connection,
	// mode "dial" initiates it.
	Mode     string `toml:"mode" env:"WRISTLINK_MODE"`
	Addr     string `toml:"addr" env:"WRISTLINK_ADDR"`
	PeerAddr string `toml:"peer_addr" env:"WRISTLINK_PEER_ADDR"`

	// Request handling
	RequestTimeoutSeconds int `toml:"request_timeout_seconds" env:"WRISTLINK_REQUEST_TIMEOUT_SECONDS"`
	OutboxLimit           int `toml:"outbox_limit" env:"WRISTLINK_OUTBOX_LIMIT"`

	// Local storage
	SettingsPath string `toml:"settings_path" env:"WRISTLINK_SETTINGS_PATH"`

	// Observability
	MetricsAddr    string `toml:"metrics_addr" env:"WRISTLINK_METRICS_ADDR"`
	TracingEnabled bool   `toml:"tracing_enabled" env:"WRISTLINK_TRACING_ENABLED"`
	OTLPEndpoint   string `toml:"otlp_endpoint" env:"WRISTLINK_OTLP_ENDPOINT"`
}

// Modes accepted by Validate.
const (
	ModeListen = "listen"
	ModeDial   = "dial"
)

// Default returns a Config with default values.
func Default() Config {
	return Config{
		ServiceName:           "wristlink",
		LogLevel:              "info",
		Mode:                  ModeListen,
		Addr:                  ":7410",
		RequestTimeoutSeconds: 10,
		OutboxLimit:           256,
		SettingsPath:          "wristlink.db",
		MetricsAddr:           ":9410",
		TracingEnabled:        false,
		OTLPEndpoint:          "localhost:4317",
	}
}

// Load builds the configuration. path may be empty to skip the file layer;
// a named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("config missing service_name")
	}
	switch c.Mode {
	case ModeListen:
		if strings.TrimSpace(c.Addr) == "" {
			return fmt.Errorf("listen mode requires addr")
		}
	case ModeDial:
		if strings.TrimSpace(c.PeerAddr) == "" {
			return fmt.Errorf("dial mode requires peer_addr")
		}
	default:
		return fmt.Errorf("invalid mode %q (want %q or %q)", c.Mode, ModeListen, ModeDial)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	if c.OutboxLimit <= 0 {
		return fmt.Errorf("outbox_limit must be positive")
	}
	if c.TracingEnabled && strings.TrimSpace(c.OTLPEndpoint) == "" {
		return fmt.Errorf("tracing enabled without otlp_endpoint")
	}
	return nil
}

// RequestTimeout returns the per-request deadline as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
