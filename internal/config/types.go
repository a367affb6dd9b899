package config

import (
	"maps"
	"slices"
	"time"
)

// Storage backends accepted by StorageConfig.Backend.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the top-level configuration for oidcflow. It is treated as an
// immutable value once loaded; use Clone before modifying a shared copy.
type Config struct {
	// Issuer is the OpenID provider's issuer URL.
	Issuer string `yaml:"issuer" env:"ISSUER"`

	// ClientID is the OAuth client identifier registered with the provider.
	ClientID string `yaml:"clientID" env:"CLIENT_ID"`

	// ClientSecret is only set for confidential clients.
	ClientSecret string `yaml:"clientSecret,omitempty" env:"CLIENT_SECRET"`

	// RedirectURI must match a redirect URI registered for the client.
	RedirectURI string `yaml:"redirectURI" env:"REDIRECT_URI"`

	// Scopes are requested on every authorization.
	Scopes []string `yaml:"scopes,omitempty" env:"SCOPES" envSeparator:" "`

	// ExtraParams are added to the authorization URL (prompt, login_hint, ...).
	ExtraParams map[string]string `yaml:"extraParams,omitempty" env:"EXTRA_PARAMS"`

	// ClockSkew is the tolerance applied to ID token time claims.
	ClockSkew time.Duration `yaml:"clockSkew" env:"CLOCK_SKEW"`

	// HTTPTimeout bounds every request to the provider.
	HTTPTimeout time.Duration `yaml:"httpTimeout" env:"HTTP_TIMEOUT"`

	// FlowTimeout is how long a started authorization may stay pending.
	FlowTimeout time.Duration `yaml:"flowTimeout" env:"FLOW_TIMEOUT"`

	// RefreshThreshold is how close to expiry Token refreshes proactively.
	RefreshThreshold time.Duration `yaml:"refreshThreshold" env:"REFRESH_THRESHOLD"`

	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// StorageConfig selects and configures the secure store backend.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`

	// Session namespaces the persisted auth state.
	Session string `yaml:"session" env:"SESSION"`

	// Dir and Passphrase configure the file backend. An empty passphrase
	// stores plaintext files.
	Dir        string `yaml:"dir,omitempty" env:"DIR"`
	Passphrase string `yaml:"passphrase,omitempty" env:"PASSPHRASE"`

	// Watch reloads the auth state when another process changes it. Only
	// the file backend supports it.
	Watch bool `yaml:"watch,omitempty" env:"WATCH"`

	// Path is the sqlite database file.
	Path string `yaml:"path,omitempty" env:"PATH"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" env:"DSN"`

	Redis RedisConfig `yaml:"redis,omitempty" envPrefix:"REDIS_"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" env:"ADDR"`
	Password string `yaml:"password,omitempty" env:"PASSWORD"`
	DB       int    `yaml:"db,omitempty" env:"DB"`
	Prefix   string `yaml:"prefix,omitempty" env:"PREFIX"`
}

// LogConfig controls the process-wide logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	c.Scopes = slices.Clone(c.Scopes)
	c.ExtraParams = maps.Clone(c.ExtraParams)
	return c
}
