package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const (
	openIDConfigurationPath = "/.well-known/openid-configuration"
	authorizationServerPath = "/.well-known/oauth-authorization-server"
)

// Resolver fetches and caches provider metadata keyed by issuer URL.
// Cached entries never expire; they are replaced only after Invalidate.
type Resolver struct {
	transport Transport
	tracer    trace.Tracer

	mu    sync.RWMutex
	cache map[string]*oauth.Metadata

	group singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverTracerProvider sets the OpenTelemetry tracer provider.
func WithResolverTracerProvider(tp trace.TracerProvider) ResolverOption {
	return func(r *Resolver) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewResolver creates a metadata resolver.
func NewResolver(transport Transport, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		transport: transport,
		tracer:    otel.Tracer(tracerName),
		cache:     make(map[string]*oauth.Metadata),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the metadata for issuer. Concurrent misses for the same
// issuer share one fetch. The returned value is a copy.
func (r *Resolver) Resolve(ctx context.Context, issuer string) (*oauth.Metadata, error) {
	if issuer == "" {
		return nil, &oauth.DiscoveryError{Issuer: issuer, Err: errors.New("issuer is empty")}
	}

	r.mu.RLock()
	cached, ok := r.cache[issuer]
	r.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	// The fetch outlives any single caller so that a cancelled caller does
	// not fail the others waiting on it.
	ch := r.group.DoChan(issuer, func() (interface{}, error) {
		meta, err := r.fetch(context.WithoutCancel(ctx), issuer)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[issuer] = meta
		r.mu.Unlock()

		logging.Info("Discovery", "Resolved provider metadata for %s", issuer)
		return meta, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth.Metadata).Clone(), nil
	}
}

// Invalidate drops the cached metadata so the next Resolve refetches it.
func (r *Resolver) Invalidate(issuer string) {
	r.mu.Lock()
	delete(r.cache, issuer)
	r.mu.Unlock()
	logging.Debug("Discovery", "Invalidated provider metadata for %s", issuer)
}

// Seed installs already known metadata, e.g. restored from persisted state.
func (r *Resolver) Seed(meta *oauth.Metadata) error {
	if meta == nil {
		return errors.New("cannot seed nil metadata")
	}
	if err := validateMetadata(meta, meta.Issuer); err != nil {
		return &oauth.DiscoveryError{Issuer: meta.Issuer, Err: err}
	}

	r.mu.Lock()
	if _, exists := r.cache[meta.Issuer]; !exists {
		r.cache[meta.Issuer] = meta.Clone()
	}
	r.mu.Unlock()
	return nil
}

func (r *Resolver) fetch(ctx context.Context, issuer string) (*oauth.Metadata, error) {
	ctx, span := r.tracer.Start(ctx, "oidc.Discover", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth.issuer", issuer)))
	defer span.End()

	urls, err := discoveryURLs(issuer)
	if err != nil {
		recordError(span, err)
		return nil, &oauth.DiscoveryError{Issuer: issuer, Err: err}
	}

	var lastErr error
	for _, docURL := range urls {
		logging.Debug("Discovery", "Fetching metadata from %s", docURL)

		meta, err := r.fetchDocument(ctx, docURL)
		if err != nil {
			var statusErr *oauth.HTTPStatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				lastErr = err
				continue
			}
			recordError(span, err)
			return nil, &oauth.DiscoveryError{Issuer: issuer, Err: err}
		}

		if err := validateMetadata(meta, issuer); err != nil {
			recordError(span, err)
			return nil, &oauth.DiscoveryError{Issuer: issuer, Err: err}
		}
		return meta, nil
	}

	err = fmt.Errorf("discovery document not found: %w", lastErr)
	recordError(span, err)
	return nil, &oauth.DiscoveryError{Issuer: issuer, Err: err}
}

func (r *Resolver) fetchDocument(ctx context.Context, docURL string) (*oauth.Metadata, error) {
	resp, err := r.transport.Execute(ctx, &Request{
		Method: http.MethodGet,
		URL:    docURL,
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &oauth.HTTPStatusError{URL: docURL, StatusCode: resp.StatusCode}
	}
	if mediaType(resp.Header) != "application/json" {
		return nil, &oauth.ParseError{Source: "discovery", Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
	}

	var meta oauth.Metadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, &oauth.ParseError{Source: "discovery", Err: err}
	}
	return &meta, nil
}

// discoveryURLs returns the OpenID Connect location followed by the RFC 8414
// location, which inserts the well-known segment before the issuer path.
func discoveryURLs(issuer string) ([]string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("issuer %q is not an absolute URL", issuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("issuer %q must not contain a query or fragment", issuer)
	}

	path := strings.TrimSuffix(u.Path, "/")
	base := u.Scheme + "://" + u.Host

	return []string{
		base + path + openIDConfigurationPath,
		base + authorizationServerPath + path,
	}, nil
}

func validateMetadata(meta *oauth.Metadata, issuer string) error {
	if meta == nil {
		return errors.New("metadata is nil")
	}
	if meta.Issuer != issuer {
		return fmt.Errorf("issuer mismatch: document declares %q, expected %q", meta.Issuer, issuer)
	}
	if meta.AuthorizationEndpoint == "" {
		return errors.New("missing authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		return errors.New("missing token_endpoint")
	}
	if len(meta.ResponseTypesSupported) > 0 && !slices.Contains(meta.ResponseTypesSupported, oauth.ResponseTypeCode) {
		return errors.New("provider does not support the code response type")
	}

	endpoints := map[string]string{
		"authorization_endpoint": meta.AuthorizationEndpoint,
		"token_endpoint":         meta.TokenEndpoint,
		"revocation_endpoint":    meta.RevocationEndpoint,
		"userinfo_endpoint":      meta.UserinfoEndpoint,
		"end_session_endpoint":   meta.EndSessionEndpoint,
		"jwks_uri":               meta.JwksURI,
	}
	for name, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		if err := validateEndpoint(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// validateEndpoint requires https, allowing plain http only for loopback hosts.
func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%s must use https", raw)
	default:
		return fmt.Errorf("%s has unsupported scheme %q", raw, u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
