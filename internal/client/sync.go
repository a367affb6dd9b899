package client

import (
	"context"
	"errors"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/flow"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// ErrNoBrowser is returned by SignIn when the client has no browser.
var ErrNoBrowser = errors.New("no browser configured; use StartAuthorization and HandleRedirect")

// SyncClient is the blocking API over a flow engine.
type SyncClient struct {
	engine  *flow.Engine
	browser flow.Browser
}

// NewSyncClient creates a blocking client. browser may be nil when the host
// drives the browser leg itself through StartAuthorization and
// HandleRedirect.
func NewSyncClient(engine *flow.Engine, browser flow.Browser) *SyncClient {
	return &SyncClient{engine: engine, browser: browser}
}

// Engine returns the underlying engine.
func (c *SyncClient) Engine() *flow.Engine {
	return c.engine
}

// SignIn runs a complete authorization flow through the browser.
func (c *SyncClient) SignIn(ctx context.Context) (*oauth.Token, error) {
	if c.browser == nil {
		return nil, ErrNoBrowser
	}
	return c.engine.SignIn(ctx, c.browser)
}

// StartAuthorization begins a flow and returns it. The host opens
// Flow.AuthorizeURL and passes the redirect to HandleRedirect.
func (c *SyncClient) StartAuthorization(ctx context.Context) (*flow.Flow, error) {
	return c.engine.Start(ctx)
}

// HandleRedirect completes the pending flow.
func (c *SyncClient) HandleRedirect(ctx context.Context, redirectURL string) (*oauth.Token, error) {
	return c.engine.HandleRedirect(ctx, redirectURL)
}

// Cancel cancels the pending flow. See flow.Engine.Cancel.
func (c *SyncClient) Cancel() error {
	return c.engine.Cancel()
}

// Refresh redeems the refresh token.
func (c *SyncClient) Refresh(ctx context.Context) (*oauth.Token, error) {
	return c.engine.Refresh(ctx)
}

// SignOut revokes and clears the session.
func (c *SyncClient) SignOut(ctx context.Context) error {
	return c.engine.SignOut(ctx)
}

// UserInfo fetches the userinfo claims.
func (c *SyncClient) UserInfo(ctx context.Context) (*oidc.UserInfo, error) {
	return c.engine.UserInfo(ctx)
}

// Token returns a valid access token, refreshing it when needed.
func (c *SyncClient) Token(ctx context.Context) (*oauth.Token, error) {
	return c.engine.Token(ctx)
}

// State returns a snapshot of the stored session.
func (c *SyncClient) State() *authstate.AuthState {
	return c.engine.State()
}

// IsAuthenticated reports whether the session holds tokens.
func (c *SyncClient) IsAuthenticated() bool {
	return c.engine.State().IsAuthenticated()
}
