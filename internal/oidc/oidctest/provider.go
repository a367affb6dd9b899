// Package oidctest runs an in-process OpenID Connect provider for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// Default identities issued by the provider.
const (
	DefaultClientID = "test-client"
	DefaultSubject  = "user-123"
	DefaultKeyID    = "test-key"
)

type grant struct {
	nonce       string
	challenge   string
	method      string
	redirectURI string
	scope       string
}

// Provider is a fake authorization server backed by httptest.
type Provider struct {
	Server   *httptest.Server
	Issuer   string
	ClientID string
	Subject  string
	Key      *rsa.PrivateKey
	KeyID    string

	mu                  sync.Mutex
	tokenError          string
	refreshError        string
	rotateRefreshTokens bool
	omitIDToken         bool
	idTokenMutator      func(*oauth.IDTokenClaims)
	refreshDelay        time.Duration
	expiresIn           int64

	grants        map[string]grant
	refreshTokens map[string]bool
	revoked       []string

	counter         atomic.Int64
	exchangeCalls   atomic.Int64
	refreshCalls    atomic.Int64
	revokeCalls     atomic.Int64
	userinfoCalls   atomic.Int64
	discoveryCalls  atomic.Int64
	jwksCalls       atomic.Int64
	discoveryHidden atomic.Bool
}

// NewProvider starts a provider and registers its shutdown with t.Cleanup.
func NewProvider(t testing.TB) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &Provider{
		ClientID:      DefaultClientID,
		Subject:       DefaultSubject,
		Key:           key,
		KeyID:         DefaultKeyID,
		expiresIn:     3600,
		grants:        make(map[string]grant),
		refreshTokens: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/revoke", p.handleRevoke)
	mux.HandleFunc("/userinfo", p.handleUserInfo)
	mux.HandleFunc("/jwks", p.handleJWKS)

	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)

	return p
}

// Metadata returns the discovery document served by the provider.
func (p *Provider) Metadata() *oauth.Metadata {
	return &oauth.Metadata{
		Issuer:                           p.Issuer,
		AuthorizationEndpoint:            p.Issuer + "/authorize",
		TokenEndpoint:                    p.Issuer + "/token",
		RevocationEndpoint:               p.Issuer + "/revoke",
		UserinfoEndpoint:                 p.Issuer + "/userinfo",
		JwksURI:                          p.Issuer + "/jwks",
		ScopesSupported:                  []string{"openid", "profile", "email", "offline_access"},
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:    []string{"S256"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
}

// FailNextToken makes the next code exchange fail with the given OAuth error code.
func (p *Provider) FailNextToken(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = code
}

// FailRefresh makes refresh requests fail with the given OAuth error code.
// An empty code restores normal behavior.
func (p *Provider) FailRefresh(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshError = code
}

// RotateRefreshTokens controls whether refresh responses carry a new refresh token.
func (p *Provider) RotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// OmitIDToken drops the ID token from code exchange responses.
func (p *Provider) OmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// MutateIDToken installs a function that edits ID token claims before signing.
func (p *Provider) MutateIDToken(fn func(*oauth.IDTokenClaims)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenMutator = fn
}

// SetRefreshDelay delays refresh responses.
func (p *Provider) SetRefreshDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshDelay = d
}

// SetExpiresIn sets the expires_in of issued access tokens.
func (p *Provider) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// HideDiscovery makes the OpenID configuration endpoint return 404.
func (p *Provider) HideDiscovery(hidden bool) {
	p.discoveryHidden.Store(hidden)
}

// ExchangeCalls returns the number of authorization_code grants received.
func (p *Provider) ExchangeCalls() int { return int(p.exchangeCalls.Load()) }

// RefreshCalls returns the number of refresh_token grants received.
func (p *Provider) RefreshCalls() int { return int(p.refreshCalls.Load()) }

// RevokeCalls returns the number of revocation requests received.
func (p *Provider) RevokeCalls() int { return int(p.revokeCalls.Load()) }

// UserInfoCalls returns the number of userinfo requests received.
func (p *Provider) UserInfoCalls() int { return int(p.userinfoCalls.Load()) }

// DiscoveryCalls returns the number of discovery requests received.
func (p *Provider) DiscoveryCalls() int { return int(p.discoveryCalls.Load()) }

// JWKSCalls returns the number of JWKS requests received.
func (p *Provider) JWKSCalls() int { return int(p.jwksCalls.Load()) }

// Revoked returns the tokens revoked so far.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// Authorize plays the user agent: it requests authURL and returns the
// redirect URL the provider sends the browser to.
func (p *Provider) Authorize(t testing.TB, authURL string) string {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

// SignIDToken signs claims with the provider key.
func (p *Provider) SignIDToken(t testing.TB, claims *oauth.IDTokenClaims) string {
	t.Helper()
	raw, err := p.sign(claims)
	require.NoError(t, err)
	return raw
}

// IDTokenClaims returns valid claims for the provider and client.
func (p *Provider) IDTokenClaims(nonce string) *oauth.IDTokenClaims {
	now := time.Now()
	return &oauth.IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{p.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Nonce:             nonce,
		Email:             "user@example.com",
		EmailVerified:     true,
		Name:              "Test User",
		PreferredUsername: "testuser",
	}
}

func (p *Provider) sign(claims *oauth.IDTokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.KeyID
	return token.SignedString(p.Key)
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.discoveryCalls.Add(1)
	if p.discoveryHidden.Load() {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, p.Metadata())
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	p.jwksCalls.Add(1)
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.Key.PublicKey,
		KeyID:     p.KeyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}})
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if q.Get("client_id") != p.ClientID || redirectURI == "" || q.Get("code_challenge") == "" {
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}

	code := fmt.Sprintf("code-%d", p.counter.Add(1))
	p.mu.Lock()
	p.grants[code] = grant{
		nonce:       q.Get("nonce"),
		challenge:   q.Get("code_challenge"),
		method:      q.Get("code_challenge_method"),
		redirectURI: redirectURI,
		scope:       q.Get("scope"),
	}
	p.mu.Unlock()

	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if r.PostForm.Get("client_id") != p.ClientID {
		if user, _, ok := r.BasicAuth(); !ok || user != p.ClientID {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCalls.Add(1)
		p.handleCodeGrant(w, r.PostForm)
	case "refresh_token":
		p.refreshCalls.Add(1)
		p.handleRefreshGrant(w, r.PostForm)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (p *Provider) handleCodeGrant(w http.ResponseWriter, form url.Values) {
	p.mu.Lock()
	failWith := p.tokenError
	p.tokenError = ""
	g, ok := p.grants[form.Get("code")]
	delete(p.grants, form.Get("code"))
	omitIDToken := p.omitIDToken
	p.mu.Unlock()

	if failWith != "" {
		writeOAuthError(w, http.StatusBadRequest, failWith, "injected failure")
		return
	}
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or used authorization code")
		return
	}
	if form.Get("redirect_uri") != g.redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	challenge, err := oauth.ChallengeFromVerifier(form.Get("code_verifier"), g.method)
	if err != nil || challenge != g.challenge {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	p.issueTokens(w, g.scope, g.nonce, true, !omitIDToken)
}

func (p *Provider) handleRefreshGrant(w http.ResponseWriter, form url.Values) {
	p.mu.Lock()
	failWith := p.refreshError
	delay := p.refreshDelay
	rotate := p.rotateRefreshTokens
	known := p.refreshTokens[form.Get("refresh_token")]
	if known && rotate {
		delete(p.refreshTokens, form.Get("refresh_token"))
	}
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failWith != "" {
		writeOAuthError(w, http.StatusBadRequest, failWith, "injected failure")
		return
	}
	if !known {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}

	p.issueTokens(w, form.Get("scope"), "", rotate, true)
}

func (p *Provider) issueTokens(w http.ResponseWriter, scope, nonce string, withRefresh, withIDToken bool) {
	n := p.counter.Add(1)

	p.mu.Lock()
	expiresIn := p.expiresIn
	mutate := p.idTokenMutator
	p.mu.Unlock()

	body := map[string]interface{}{
		"access_token": fmt.Sprintf("access-%d", n),
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if scope != "" {
		body["scope"] = scope
	}
	if withRefresh {
		refresh := fmt.Sprintf("refresh-%d", n)
		p.mu.Lock()
		p.refreshTokens[refresh] = true
		p.mu.Unlock()
		body["refresh_token"] = refresh
	}
	if withIDToken {
		claims := p.IDTokenClaims(nonce)
		if mutate != nil {
			mutate(claims)
		}
		raw, err := p.sign(claims)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		body["id_token"] = raw
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, body)
}

func (p *Provider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p.revokeCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	token := r.PostForm.Get("token")

	p.mu.Lock()
	delete(p.refreshTokens, token)
	p.revoked = append(p.revoked, token)
	p.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p.userinfoCalls.Add(1)
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !strings.HasPrefix(token, "access-") {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="The access token is invalid"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sub":            p.Subject,
		"email":          "user@example.com",
		"email_verified": true,
		"name":           "Test User",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
