package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// DefaultMinKeyRefreshInterval limits forced JWKS refetches so tokens with
// unknown key ids cannot make the client hammer the provider.
const DefaultMinKeyRefreshInterval = 30 * time.Second

type cachedKeys struct {
	set       *oauth.KeySet
	fetchedAt time.Time
}

// KeyCache fetches and caches JWKS documents keyed by jwks_uri.
type KeyCache struct {
	transport          Transport
	minRefreshInterval time.Duration
	now                func() time.Time

	mu   sync.RWMutex
	sets map[string]cachedKeys

	group singleflight.Group
}

// NewKeyCache creates an empty key cache.
func NewKeyCache(transport Transport) *KeyCache {
	return &KeyCache{
		transport:          transport,
		minRefreshInterval: DefaultMinKeyRefreshInterval,
		now:                time.Now,
		sets:               make(map[string]cachedKeys),
	}
}

// Keys returns the cached key set for jwksURI, fetching it on first use.
func (c *KeyCache) Keys(ctx context.Context, jwksURI string) (*oauth.KeySet, error) {
	c.mu.RLock()
	cached, ok := c.sets[jwksURI]
	c.mu.RUnlock()
	if ok {
		return cached.set, nil
	}
	return c.load(ctx, jwksURI)
}

// Refresh refetches the key set after a token named an unknown key. Within
// the minimum refresh interval the cached set is returned instead.
func (c *KeyCache) Refresh(ctx context.Context, jwksURI string) (*oauth.KeySet, error) {
	c.mu.RLock()
	cached, ok := c.sets[jwksURI]
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.fetchedAt) < c.minRefreshInterval {
		logging.Debug("Discovery", "Skipping JWKS refresh for %s, fetched %s ago", jwksURI, c.now().Sub(cached.fetchedAt))
		return cached.set, nil
	}
	return c.load(ctx, jwksURI)
}

func (c *KeyCache) load(ctx context.Context, jwksURI string) (*oauth.KeySet, error) {
	if jwksURI == "" {
		return nil, errors.New("provider does not publish a jwks_uri")
	}

	ch := c.group.DoChan(jwksURI, func() (interface{}, error) {
		set, err := c.fetch(context.WithoutCancel(ctx), jwksURI)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sets[jwksURI] = cachedKeys{set: set, fetchedAt: c.now()}
		c.mu.Unlock()

		logging.Debug("Discovery", "Loaded %d signing keys from %s", set.Len(), jwksURI)
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth.KeySet), nil
	}
}

func (c *KeyCache) fetch(ctx context.Context, jwksURI string) (*oauth.KeySet, error) {
	resp, err := c.transport.Execute(ctx, &Request{
		Method: http.MethodGet,
		URL:    jwksURI,
		Header: http.Header{"Accept": {"application/jwk-set+json, application/json"}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &oauth.HTTPStatusError{URL: jwksURI, StatusCode: resp.StatusCode}
	}
	switch mediaType(resp.Header) {
	case "application/json", "application/jwk-set+json":
	default:
		return nil, &oauth.ParseError{Source: "jwks", Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
	}

	set, err := oauth.ParseJWKS(resp.Body)
	if err != nil {
		return nil, &oauth.ParseError{Source: "jwks", Err: err}
	}
	return set, nil
}
