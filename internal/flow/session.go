package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// refreshKey is the singleflight key; one session has one refresh in flight.
const refreshKey = "refresh"

// Refresh redeems the stored refresh token. Concurrent callers share one
// token request; each caller stops waiting when its own ctx is done while
// the request itself runs to completion. An invalid_grant response clears
// the session and is returned as *oauth.InvalidGrantError.
func (e *Engine) Refresh(ctx context.Context) (*oauth.Token, error) {
	state := e.store.Get()
	if state.Tokens == nil {
		return nil, oauth.ErrNotAuthenticated
	}
	if state.Tokens.RefreshToken == "" {
		return nil, oauth.ErrNoRefreshToken
	}

	ch := e.refreshGroup.DoChan(refreshKey, func() (interface{}, error) {
		return e.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth.Token).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) refresh(ctx context.Context) (*oauth.Token, error) {
	state := e.store.Get()
	if state.Tokens == nil {
		return nil, oauth.ErrNotAuthenticated
	}
	used := state.Tokens.RefreshToken
	if used == "" {
		return nil, oauth.ErrNoRefreshToken
	}

	provider, err := e.provider(ctx, state)
	if err != nil {
		return nil, err
	}

	logging.Debug("Token", "Refreshing access token for %s", provider.Issuer)

	token, err := e.client.RefreshToken(ctx, provider, used, nil)
	if err != nil {
		if oauth.IsInvalidGrant(err) {
			logging.Warn("Token", "Refresh token rejected by %s, clearing session", provider.Issuer)
			if _, clearErr := e.store.CompareAndClear(ctx, used); clearErr != nil {
				err = errors.Join(err, clearErr)
			}
		}
		e.audit("token_refresh", nil, "", err)
		return nil, err
	}

	if token.IDToken != "" {
		subject := subjectOf(state.Tokens)
		if _, err := e.verifier.Verify(ctx, provider, token.IDToken, "", subject); err != nil {
			e.audit("token_refresh", nil, subject, err)
			return nil, err
		}
	}

	next, err := e.store.CompareAndUpdateTokens(ctx, used, token)
	if err != nil {
		if errors.Is(err, oauth.ErrNotAuthenticated) {
			logging.Info("Token", "Session changed during refresh, discarding refreshed tokens")
		}
		return nil, err
	}

	logging.Info("Token", "Access token refreshed, expires at %s", next.Tokens.ExpiresAt)
	e.audit("token_refresh", nil, subjectOf(next.Tokens), nil)
	return next.Tokens, nil
}

// Token returns the current token, refreshing it first when it expires
// within the refresh threshold. A token that is still valid is returned
// when a proactive refresh fails with a network error.
func (e *Engine) Token(ctx context.Context) (*oauth.Token, error) {
	state := e.store.Get()
	if !state.IsAuthenticated() {
		return nil, oauth.ErrNotAuthenticated
	}

	current := state.Tokens
	if !current.IsExpiredWithMargin(e.cfg.RefreshThreshold) {
		return current, nil
	}
	if current.RefreshToken == "" {
		if current.IsExpired() {
			return nil, fmt.Errorf("%w: access token expired and no refresh token is available", oauth.ErrNotAuthenticated)
		}
		return current, nil
	}

	token, err := e.Refresh(ctx)
	if err != nil {
		if oauth.IsRetryable(err) && !current.IsExpired() {
			logging.Warn("Token", "Proactive refresh failed, using current token: %v", err)
			return current, nil
		}
		return nil, err
	}
	return token, nil
}

// TokenSource adapts the engine to oauth2.TokenSource. Tokens are refreshed
// through Token, so the source shares the engine's single refresh.
func (e *Engine) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, engine: e}
}

// HTTPClient returns a client that authenticates requests with the
// session's access token. base defaults to http.DefaultTransport.
func (e *Engine) HTTPClient(ctx context.Context, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: e.TokenSource(ctx),
			Base:   base,
		},
	}
}

type tokenSource struct {
	ctx    context.Context
	engine *Engine
}

// Token implements oauth2.TokenSource.
func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.engine.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return token.ToOAuth2Token(), nil
}

// SignOut cancels any flow, revokes the stored tokens and clears the
// session. Revocation is best effort; only a failure to clear is returned.
func (e *Engine) SignOut(ctx context.Context) error {
	// Clear below also drops a pending request Cancel could not remove.
	_ = e.Cancel()

	state := e.store.Get()
	subject := subjectOf(state.Tokens)
	if state.Tokens != nil {
		e.revokeAll(ctx, state)
	}

	if err := e.store.Clear(ctx); err != nil {
		e.audit("sign_out", nil, subject, err)
		return err
	}

	logging.Info("Token", "Signed out of %s", e.cfg.Issuer)
	e.audit("sign_out", nil, subject, nil)
	return nil
}

func (e *Engine) revokeAll(ctx context.Context, state *authstate.AuthState) {
	provider, err := e.provider(ctx, state)
	if err != nil {
		logging.Warn("Token", "Skipping token revocation: %v", err)
		return
	}

	revoke := func(token, hint string) {
		if token == "" {
			return
		}
		if err := e.client.RevokeToken(ctx, provider, token, hint); err != nil {
			logging.Warn("Token", "Failed to revoke %s: %v", hint, err)
		}
	}

	revoke(state.Tokens.RefreshToken, oidc.TokenTypeHintRefreshToken)
	revoke(state.Tokens.AccessToken, oidc.TokenTypeHintAccessToken)
}

// UserInfo fetches the userinfo claims with the current access token. A
// rejected token is returned as *oauth.UnauthorizedError.
func (e *Engine) UserInfo(ctx context.Context) (*oidc.UserInfo, error) {
	token, err := e.Token(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := e.provider(ctx, e.store.Get())
	if err != nil {
		return nil, err
	}
	return e.client.UserInfo(ctx, provider, token.AccessToken)
}

// IDTokenClaims decodes the stored ID token. Its signature was verified
// when the token was stored.
func (e *Engine) IDTokenClaims() (*oauth.IDTokenClaims, error) {
	state := e.store.Get()
	if state.Tokens == nil {
		return nil, oauth.ErrNotAuthenticated
	}
	if state.Tokens.IDToken == "" {
		return nil, errors.New("session has no ID token")
	}
	return oauth.ParseIDTokenClaimsUnverified(state.Tokens.IDToken)
}

// provider returns the stored metadata when it belongs to the configured
// issuer and resolves it otherwise.
func (e *Engine) provider(ctx context.Context, state *authstate.AuthState) (*oauth.Metadata, error) {
	if state.Provider != nil && state.Provider.Issuer == e.cfg.Issuer {
		return state.Provider, nil
	}
	return e.resolver.Resolve(ctx, e.cfg.Issuer)
}

// subjectOf returns the sub claim of the token's ID token, or "".
func subjectOf(token *oauth.Token) string {
	if token == nil || token.IDToken == "" {
		return ""
	}
	claims, err := oauth.ParseIDTokenClaimsUnverified(token.IDToken)
	if err != nil {
		return ""
	}
	return claims.Subject
}
