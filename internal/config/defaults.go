package config

import (
	"slices"
	"time"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const (
	// DefaultRedirectURI is a loopback redirect served by the CLI.
	DefaultRedirectURI = "http://127.0.0.1:8765/oauth/callback"

	// DefaultHTTPTimeout bounds each provider request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultFlowTimeout is how long a started authorization stays valid.
	DefaultFlowTimeout = 10 * time.Minute

	// MaxClockSkew is the largest accepted clock skew tolerance.
	MaxClockSkew = 10 * time.Minute
)

// GetDefaultConfig returns the configuration used before the file and the
// environment are applied.
func GetDefaultConfig() Config {
	return Config{
		RedirectURI:      DefaultRedirectURI,
		Scopes:           slices.Clone(oauth.DefaultScopes),
		ClockSkew:        oauth.DefaultClockSkew,
		HTTPTimeout:      DefaultHTTPTimeout,
		FlowTimeout:      DefaultFlowTimeout,
		RefreshThreshold: oauth.TokenRefreshThreshold,
		Storage: StorageConfig{
			Backend: BackendFile,
			Session: authstate.DefaultSession,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}
