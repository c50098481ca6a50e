// Package envconfig holds the ambient, process-level settings that have no
// business living in anvil.conf: logging, the admin HTTP listener, telemetry
// endpoints, and the optional integrations. Domain configuration (peers,
// archive thresholds, lock lease ages) lives in anvil.conf and is loaded by
// package anvilconf instead.
package envconfig

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds process settings loaded from environment variables.
type Config struct {
	// LogLevel is one of: debug, info, warn, error.
	LogLevel string `env:"ANVIL_LOG_LEVEL" envDefault:"info"`
	// LogFormat is "json" or "text".
	LogFormat string `env:"ANVIL_LOG_FORMAT" envDefault:"json"`

	// ConfigPath is where anvil.conf is read from and rewritten to.
	ConfigPath string `env:"ANVIL_CONFIG_PATH" envDefault:"/etc/anvil/anvil.conf"`

	// Admin HTTP surface.
	ListenAddr  string `env:"ANVIL_LISTEN_ADDR" envDefault:"0.0.0.0:8080"`
	MetricsPath string `env:"ANVIL_METRICS_PATH" envDefault:"/metrics"`
	APIKey      string `env:"ANVIL_API_KEY"`

	// Telemetry.
	OTLPEndpoint string `env:"ANVIL_OTLP_ENDPOINT"`

	// Optional Redis notify bus.
	RedisURL string `env:"ANVIL_REDIS_URL"`

	// Optional Slack alert forwarding.
	SlackBotToken     string `env:"ANVIL_SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"ANVIL_SLACK_ALERT_CHANNEL"`
}

// Load reads process configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	return cfg, nil
}

// SlackEnabled reports whether Slack alert forwarding is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAlertChannel != ""
}

// RedisEnabled reports whether the optional notify bus is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}
