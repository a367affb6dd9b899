package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/giantswarm/oidcflow/internal/client"
	"github.com/giantswarm/oidcflow/internal/config"
	"github.com/giantswarm/oidcflow/internal/flow"
	"github.com/giantswarm/oidcflow/pkg/logging"
)

// Application bootstraps the oidcflow clients from configuration.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, build services
//  2. Use phase: hand out the sync or async client facade
//
// Example usage:
//
//	cfg := app.NewConfig(false, false, "")
//	application, err := app.NewApplication(ctx, cfg, opts...)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close()
//	err = application.Client(browser).SignIn(ctx)
type Application struct {
	config   *Config
	oidc     config.Config
	services *Services
}

// NewApplication loads configuration (unless cfg.OIDC is set), configures
// logging and initializes the services.
func NewApplication(ctx context.Context, cfg *Config, opts ...ServiceOption) (*Application, error) {
	var logOutput io.Writer = os.Stderr
	if cfg.LogOutput != nil {
		logOutput = cfg.LogOutput
	}
	if cfg.Quiet {
		// If quiet mode is enabled, suppress all output
		logOutput = io.Discard
	}
	// Until the configuration is known only the flags apply.
	logging.InitForCLI(levelFor(cfg, ""), logOutput)

	var oidcCfg config.Config
	if cfg.OIDC != nil {
		oidcCfg = cfg.OIDC.Clone()
		if err := oidcCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	} else {
		loaded, err := config.Load(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration")
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		oidcCfg = loaded
	}

	if err := logging.InitWithFormat(levelFor(cfg, oidcCfg.Log.Level), oidcCfg.Log.Format, logOutput); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	services, err := InitializeServices(ctx, oidcCfg, opts...)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	logging.Debug("Bootstrap", "Initialized client %s for issuer %s", oidcCfg.ClientID, oidcCfg.Issuer)

	return &Application{
		config:   cfg,
		oidc:     oidcCfg,
		services: services,
	}, nil
}

func levelFor(cfg *Config, configured string) logging.LogLevel {
	if cfg.Debug {
		return logging.LevelDebug
	}
	level, err := logging.ParseLevel(configured)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Settings returns a copy of the loaded configuration.
func (a *Application) Settings() config.Config {
	return a.oidc.Clone()
}

// Services exposes the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Engine returns the flow engine.
func (a *Application) Engine() *flow.Engine {
	return a.services.Engine
}

// Client returns a blocking client that signs in through browser.
func (a *Application) Client(browser flow.Browser) *client.SyncClient {
	return client.NewSyncClient(a.services.Engine, browser)
}

// AsyncClient returns a non-blocking client. The caller closes it.
func (a *Application) AsyncClient(browser flow.Browser, opts ...client.AsyncOption) *client.AsyncClient {
	return client.NewAsyncClient(a.Client(browser), opts...)
}

// Close releases storage connections.
func (a *Application) Close() error {
	return a.services.Close()
}
