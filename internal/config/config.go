package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the mirror's runtime configuration, loaded from TASKMIRROR_*
// environment variables. Command-line flags may override individual fields
// after Load.
type Config struct {
	// BaseURL is the authority's HTTP endpoint.
	BaseURL string `envconfig:"BASE_URL" default:"http://127.0.0.1:8420"`
	// PushURL overrides the websocket endpoint derived from BaseURL.
	PushURL string `envconfig:"PUSH_URL"`

	// Token is the bearer credential; TokenFile points to a file holding it
	// and takes precedence so rotations apply without a restart.
	Token     string `envconfig:"TOKEN"`
	TokenFile string `envconfig:"TOKEN_FILE"`

	// StateDSN selects the snapshot backend: a file path, "memory", or a
	// postgres:// DSN. Empty disables persistence.
	StateDSN string `envconfig:"STATE_DSN"`

	// ListenAddr is the local status API bind address. Empty disables it.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8421"`
	// APIToken guards the local status API when set.
	APIToken string `envconfig:"API_TOKEN"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV"`
}

// Load reads configuration from the environment under the TASKMIRROR prefix.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("taskmirror", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that have no workable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	return nil
}
