package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidcflow/pkg/logging"
)

const (
	userConfigDir  = ".config/oidcflow"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override, e.g. OIDCFLOW_ISSUER.
	EnvPrefix = "OIDCFLOW_"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigPath returns ~/.config/oidcflow/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// Load builds the configuration from defaults, the YAML file at configPath
// (the default path when empty) and OIDCFLOW_* environment overrides, then
// validates the result. A missing file is not an error.
func Load(configPath string) (Config, error) {
	if configPath == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		configPath = defaultPath
	}

	config, err := loadFile(configPath)
	if err != nil {
		return Config{}, err
	}

	if err := applyEnv(&config, nil); err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadFile(configPath string) (Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configPath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configPath, err)
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		// config malformed
		return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configPath)
	return config, nil
}

// applyEnv overlays environment variables. environ replaces the process
// environment when not nil.
func applyEnv(config *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return fmt.Errorf("error applying %s* environment overrides: %w", EnvPrefix, err)
	}
	return nil
}
