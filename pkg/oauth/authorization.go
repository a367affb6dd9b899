package oauth

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseTypeCode is the only response type this client requests.
const ResponseTypeCode = "code"

// AuthorizationRequest holds the per-flow secrets of an authorization code
// flow. It lives from flow start until the matching redirect is consumed.
type AuthorizationRequest struct {
	// ID identifies the flow instance that owns this request.
	ID string `json:"id"`

	// Issuer is the provider the request was issued against.
	Issuer string `json:"issuer"`

	// State is echoed back by the provider and must match exactly.
	State string `json:"state"`

	// Nonce binds the ID token to this request.
	Nonce string `json:"nonce"`

	// PKCE holds the verifier/challenge pair.
	PKCE *PKCEChallenge `json:"pkce"`

	// Scopes are the requested scopes.
	Scopes []string `json:"scopes"`

	// RedirectURI is the registered redirect URI.
	RedirectURI string `json:"redirect_uri"`

	// ResponseType is always "code".
	ResponseType string `json:"response_type"`

	// CreatedAt is when the flow was started.
	CreatedAt time.Time `json:"created_at"`
}

// NewAuthorizationRequest creates a request with fresh state, nonce and PKCE
// values. pkceMethods are the provider's advertised challenge methods.
func NewAuthorizationRequest(issuer, redirectURI string, scopes, pkceMethods []string) (*AuthorizationRequest, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	pkce, err := GeneratePKCEForMethods(pkceMethods)
	if err != nil {
		return nil, err
	}

	return &AuthorizationRequest{
		ID:           uuid.NewString(),
		Issuer:       issuer,
		State:        state,
		Nonce:        nonce,
		PKCE:         pkce,
		Scopes:       slices.Clone(scopes),
		RedirectURI:  redirectURI,
		ResponseType: ResponseTypeCode,
		CreatedAt:    time.Now(),
	}, nil
}

// Scope returns the space-separated scope parameter.
func (r *AuthorizationRequest) Scope() string {
	return strings.Join(r.Scopes, " ")
}

// RequestsOpenID reports whether the request is an OIDC authentication request.
func (r *AuthorizationRequest) RequestsOpenID() bool {
	return slices.Contains(r.Scopes, ScopeOpenID)
}

// Clone returns a deep copy of the request.
func (r *AuthorizationRequest) Clone() *AuthorizationRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = slices.Clone(r.Scopes)
	if r.PKCE != nil {
		pkce := *r.PKCE
		c.PKCE = &pkce
	}
	return &c
}

// AuthorizationResponse is the parsed terminal redirect of the browser leg.
type AuthorizationResponse struct {
	// Code is the authorization code from the OAuth provider.
	Code string

	// State is the state parameter to verify against the original request.
	State string

	// Error is the error code if the authorization failed.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string

	// ErrorURI points to provider documentation for the error.
	ErrorURI string
}

// IsError returns true if the response represents an error.
func (r *AuthorizationResponse) IsError() bool {
	return r.Error != ""
}

// ParseAuthorizationResponse parses a redirect URL. When expectedPrefix is
// not empty the redirect must target it (scheme, host and path). Parameters
// are read from the query, falling back to the fragment.
func ParseAuthorizationResponse(redirectURL, expectedPrefix string) (*AuthorizationResponse, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, &ParseError{Source: "redirect", Err: err}
	}

	if expectedPrefix != "" {
		want, err := url.Parse(expectedPrefix)
		if err != nil {
			return nil, &ParseError{Source: "redirect", Err: fmt.Errorf("invalid redirect URI: %w", err)}
		}
		if !strings.EqualFold(u.Scheme, want.Scheme) || !strings.EqualFold(u.Host, want.Host) ||
			strings.TrimSuffix(u.Path, "/") != strings.TrimSuffix(want.Path, "/") {
			return nil, &ParseError{Source: "redirect", Err: fmt.Errorf("redirect does not target %s", expectedPrefix)}
		}
	}

	params := u.Query()
	if params.Get("state") == "" && u.Fragment != "" {
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			params = fragment
		}
	}

	return &AuthorizationResponse{
		Code:             params.Get("code"),
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
		ErrorURI:         params.Get("error_uri"),
	}, nil
}
