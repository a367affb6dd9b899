package app

import (
	"io"

	"github.com/giantswarm/oidcflow/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Quiet discards all log output.
	Quiet bool

	// Custom configuration file (optional). Empty uses
	// ~/.config/oidcflow/config.yaml.
	ConfigPath string

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// OIDC is the loaded client configuration. When set, loading from
	// ConfigPath is skipped.
	OIDC *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug, quiet bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Quiet:      quiet,
		ConfigPath: configPath,
	}
}
