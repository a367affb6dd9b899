package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/config"
	"github.com/giantswarm/oidcflow/internal/flow"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/internal/securestore"
	"github.com/giantswarm/oidcflow/pkg/logging"
)

// Services holds the collaborators built from a config.Config.
//
// The services are initialized in dependency order:
//  1. HTTP transport
//  2. discovery resolver, request client, JWKS cache and ID token verifier
//  3. secure store backend and the auth state store on top of it
//  4. the flow engine
type Services struct {
	Transport oidc.Transport
	Resolver  *oidc.Resolver
	Client    *oidc.Client
	Keys      *oidc.KeyCache
	Verifier  *oidc.Verifier

	// Secure is the configured backend; State persists through it.
	Secure securestore.SecureStore
	State  *authstate.Store

	Engine *flow.Engine

	closers []io.Closer
}

// ServiceOption customizes InitializeServices.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	transport oidc.Transport
	secure    securestore.SecureStore
}

// WithTransport replaces the HTTP transport.
func WithTransport(t oidc.Transport) ServiceOption {
	return func(o *serviceOptions) { o.transport = t }
}

// WithSecureStore replaces the configured storage backend.
func WithSecureStore(s securestore.SecureStore) ServiceOption {
	return func(o *serviceOptions) { o.secure = s }
}

// InitializeServices creates every service required by the clients. On
// failure resources opened so far are released.
func InitializeServices(ctx context.Context, cfg config.Config, opts ...ServiceOption) (*Services, error) {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Services{}

	s.Transport = o.transport
	if s.Transport == nil {
		s.Transport = oidc.NewHTTPTransport(oidc.WithTimeout(cfg.HTTPTimeout))
	}

	var clientOpts []oidc.Option
	if cfg.ClientSecret != "" {
		clientOpts = append(clientOpts, oidc.WithClientSecret(cfg.ClientSecret))
	}
	s.Resolver = oidc.NewResolver(s.Transport)
	s.Client = oidc.NewClient(s.Transport, cfg.ClientID, clientOpts...)
	s.Keys = oidc.NewKeyCache(s.Transport)
	s.Verifier = oidc.NewVerifier(s.Keys, cfg.ClientID, cfg.ClockSkew)

	s.Secure = o.secure
	if s.Secure == nil {
		secure, err := openSecureStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
		}
		s.Secure = secure
		if closer, ok := secure.(io.Closer); ok {
			s.closers = append(s.closers, closer)
		}
	}
	logging.Debug("Services", "Using %s storage for session %q", cfg.Storage.Backend, cfg.Storage.Session)

	state, err := authstate.Open(ctx, s.Secure, authstate.Options{
		Session:     cfg.Storage.Session,
		FlowTimeout: cfg.FlowTimeout,
		Logger:      logging.Logger(),
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to restore auth state: %w", err)
	}
	s.State = state

	if cfg.Storage.Watch {
		if err := s.watchState(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	// A restored provider configuration avoids refetching discovery
	// while a flow is pending.
	if provider := state.Get().Provider; provider != nil && provider.Issuer == cfg.Issuer {
		if err := s.Resolver.Seed(provider); err != nil {
			logging.Warn("Services", "Ignoring stored provider configuration: %v", err)
		}
	}

	extra := url.Values{}
	for k, v := range cfg.ExtraParams {
		extra.Set(k, v)
	}

	s.Engine, err = flow.NewEngine(flow.Config{
		Issuer:           cfg.Issuer,
		RedirectURI:      cfg.RedirectURI,
		Scopes:           cfg.Scopes,
		ExtraParams:      extra,
		FlowTimeout:      cfg.FlowTimeout,
		RefreshThreshold: cfg.RefreshThreshold,
	}, flow.Deps{
		Resolver: s.Resolver,
		Client:   s.Client,
		Verifier: s.Verifier,
		Store:    s.State,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create flow engine: %w", err)
	}

	return s, nil
}

// watchState reloads the auth state on external changes until Close.
func (s *Services) watchState(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.State.Watch(watchCtx); err != nil {
		cancel()
		if errors.Is(err, authstate.ErrWatchUnsupported) {
			logging.Warn("Services", "Storage backend cannot be watched, external changes are picked up on restart")
			return nil
		}
		return fmt.Errorf("failed to watch auth state: %w", err)
	}
	s.closers = append(s.closers, closerFunc(func() error {
		cancel()
		return nil
	}))
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Close releases storage connections in reverse order of opening.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openSecureStore(ctx context.Context, storage config.StorageConfig) (securestore.SecureStore, error) {
	switch storage.Backend {
	case config.BackendMemory:
		return securestore.NewMemory(), nil
	case config.BackendFile:
		return securestore.NewFile(securestore.FileConfig{
			Dir:        storage.Dir,
			Passphrase: storage.Passphrase,
			Logger:     logging.Logger(),
		})
	case config.BackendRedis:
		return securestore.NewRedisFromConfig(ctx, securestore.RedisConfig{
			Addr:     storage.Redis.Addr,
			Password: storage.Redis.Password,
			DB:       storage.Redis.DB,
			Prefix:   storage.Redis.Prefix,
		})
	case config.BackendSQLite:
		return securestore.OpenSQLite(ctx, storage.Path)
	case config.BackendPostgres:
		return securestore.OpenPostgres(ctx, storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", storage.Backend)
	}
}
