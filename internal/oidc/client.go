package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const tracerName = "github.com/giantswarm/oidcflow/internal/oidc"

// Token type hints for RevokeToken (RFC 7009).
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// ErrUserInfoUnsupported is returned when the provider has no userinfo endpoint.
var ErrUserInfoUnsupported = errors.New("provider does not publish a userinfo endpoint")

// reservedAuthorizeParams cannot be overridden by extra parameters.
var reservedAuthorizeParams = []string{
	"response_type", "client_id", "redirect_uri", "scope", "state", "nonce",
	"code_challenge", "code_challenge_method", "code_verifier",
}

// Client performs the provider requests of one OAuth client registration.
// Every operation is a single HTTP attempt; retry policy belongs to the caller.
type Client struct {
	transport    Transport
	clientID     string
	clientSecret oauth.Redacted
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClientSecret makes the client confidential; the secret is sent with
// HTTP Basic authentication.
func WithClientSecret(secret string) Option {
	return func(c *Client) {
		c.clientSecret = oauth.NewRedacted(secret)
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the clock used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a request client for clientID.
func NewClient(transport Transport, clientID string, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		clientID:  clientID,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// BuildAuthorizationURL builds the authorization endpoint URL for req.
// Extra parameters such as prompt or login_hint are passed through, but
// protocol parameters always come from req. The PKCE verifier is never included.
func (c *Client) BuildAuthorizationURL(meta *oauth.Metadata, req *oauth.AuthorizationRequest, extra url.Values) (string, error) {
	if meta == nil || meta.AuthorizationEndpoint == "" {
		return "", errors.New("provider has no authorization endpoint")
	}
	if req == nil || req.PKCE == nil {
		return "", errors.New("authorization request is incomplete")
	}

	u, err := url.Parse(meta.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	q := u.Query()
	for key, values := range extra {
		if isReservedAuthorizeParam(key) {
			continue
		}
		q[key] = append([]string(nil), values...)
	}

	q.Set("response_type", oauth.ResponseTypeCode)
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", req.Scope())
	q.Set("state", req.State)
	q.Set("code_challenge", req.PKCE.CodeChallenge)
	q.Set("code_challenge_method", req.PKCE.CodeChallengeMethod)
	if req.Nonce != "" {
		q.Set("nonce", req.Nonce)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isReservedAuthorizeParam(key string) bool {
	for _, reserved := range reservedAuthorizeParams {
		if strings.EqualFold(key, reserved) {
			return true
		}
	}
	return false
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, meta *oauth.Metadata, req *oauth.AuthorizationRequest, code string) (*oauth.Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is empty")
	}
	if req == nil || req.PKCE == nil {
		return nil, errors.New("authorization request is incomplete")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {req.RedirectURI},
		"code_verifier": {req.PKCE.CodeVerifier},
	}

	token, err := c.tokenRequest(ctx, "oidc.ExchangeCode", meta, form)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RefreshToken redeems a refresh token. An invalid_grant response is
// returned as *oauth.InvalidGrantError.
func (c *Client) RefreshToken(ctx context.Context, meta *oauth.Metadata, refreshToken string, scopes []string) (*oauth.Token, error) {
	if refreshToken == "" {
		return nil, oauth.ErrNoRefreshToken
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	token, err := c.tokenRequest(ctx, "oidc.RefreshToken", meta, form)
	if err != nil {
		var authErr *oauth.AuthorizationError
		if errors.As(err, &authErr) && authErr.Code == "invalid_grant" {
			return nil, &oauth.InvalidGrantError{Description: authErr.Description}
		}
		return nil, err
	}
	return token, nil
}

func (c *Client) tokenRequest(ctx context.Context, spanName string, meta *oauth.Metadata, form url.Values) (*oauth.Token, error) {
	if meta == nil || meta.TokenEndpoint == "" {
		return nil, errors.New("provider has no token endpoint")
	}

	grantType := form.Get("grant_type")
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("oauth.grant_type", grantType),
			attribute.String("oauth.client_id", c.clientID),
			attribute.String("server.address", hostOf(meta.TokenEndpoint)),
		))
	defer span.End()

	logging.Debug("OIDC", "Token request grant_type=%s endpoint=%s", grantType, meta.TokenEndpoint)

	resp, err := c.postForm(ctx, meta.TokenEndpoint, form)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	receivedAt := c.now()
	token, err := parseTokenResponse(meta.TokenEndpoint, resp)
	if err != nil {
		recordError(span, err)
		logging.Debug("OIDC", "Token request grant_type=%s failed: %v", grantType, err)
		return nil, err
	}

	token.SetExpiresAt(receivedAt)
	token.Issuer = meta.Issuer

	logging.Debug("OIDC", "Token request grant_type=%s succeeded (refresh_token=%t id_token=%t expires_at=%s)",
		grantType, token.RefreshToken != "", token.IDToken != "", token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// RevokeToken revokes a token (RFC 7009). Revocation is idempotent: every
// response the provider sends, including error responses, counts as done and
// is only logged. Transport failures are returned as *oauth.NetworkError. A
// provider without a revocation endpoint is skipped.
func (c *Client) RevokeToken(ctx context.Context, meta *oauth.Metadata, token, hint string) error {
	if meta == nil || meta.RevocationEndpoint == "" {
		logging.Debug("OIDC", "Provider has no revocation endpoint, skipping %s", hint)
		return nil
	}
	if token == "" {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "oidc.RevokeToken", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("oauth.token_type_hint", hint),
			attribute.String("server.address", hostOf(meta.RevocationEndpoint)),
		))
	defer span.End()

	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}

	resp, err := c.postForm(ctx, meta.RevocationEndpoint, form)
	if err != nil {
		recordError(span, err)
		return err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logging.Debug("OIDC", "Revoked %s (status %d)", hint, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		logging.Debug("OIDC", "Provider no longer knows %s", hint)
	default:
		if authErr := decodeOAuthError(resp); authErr != nil {
			logging.Debug("OIDC", "Provider answered revocation of %s with %s", hint, authErr.Code)
		} else {
			logging.Debug("OIDC", "Provider answered revocation of %s with status %d", hint, resp.StatusCode)
		}
	}
	return nil
}

// UserInfo is the response of the userinfo endpoint.
type UserInfo struct {
	Subject       string                 `json:"sub"`
	Email         string                 `json:"email,omitempty"`
	EmailVerified bool                   `json:"email_verified,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Claims        map[string]interface{} `json:"-"`
}

// UserInfo fetches the userinfo endpoint with the access token. A 401 is
// returned as *oauth.UnauthorizedError.
func (c *Client) UserInfo(ctx context.Context, meta *oauth.Metadata, accessToken string) (*UserInfo, error) {
	if meta == nil || meta.UserinfoEndpoint == "" {
		return nil, ErrUserInfoUnsupported
	}
	if accessToken == "" {
		return nil, oauth.ErrNotAuthenticated
	}

	ctx, span := c.tracer.Start(ctx, "oidc.UserInfo", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.address", hostOf(meta.UserinfoEndpoint))))
	defer span.End()

	resp, err := c.transport.Execute(ctx, &Request{
		Method: http.MethodGet,
		URL:    meta.UserinfoEndpoint,
		Header: http.Header{
			"Authorization": {"Bearer " + accessToken},
			"Accept":        {"application/json"},
		},
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	info, err := parseUserInfoResponse(meta.UserinfoEndpoint, resp)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return info, nil
}

func parseUserInfoResponse(endpoint string, resp *Response) (*UserInfo, error) {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, oauth.NewUnauthorizedError(endpoint, resp.Header)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if authErr := decodeOAuthError(resp); authErr != nil {
			return nil, authErr
		}
		return nil, &oauth.HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	claims := map[string]interface{}{}
	switch mediaType(resp.Header) {
	case "application/json":
		if err := json.Unmarshal(resp.Body, &claims); err != nil {
			return nil, &oauth.ParseError{Source: "userinfo", Err: err}
		}
	case "application/jwt":
		mapClaims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(string(resp.Body)), mapClaims); err != nil {
			return nil, &oauth.ParseError{Source: "userinfo", Err: err}
		}
		claims = mapClaims
	default:
		return nil, &oauth.ParseError{Source: "userinfo", Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
	}

	info := &UserInfo{Claims: claims}
	info.Subject, _ = claims["sub"].(string)
	info.Email, _ = claims["email"].(string)
	info.EmailVerified, _ = claims["email_verified"].(bool)
	info.Name, _ = claims["name"].(string)

	if info.Subject == "" {
		return nil, &oauth.ParseError{Source: "userinfo", Err: errors.New("missing sub claim")}
	}
	return info, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	header := http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
		"Accept":       {"application/json"},
	}
	if c.clientSecret.IsEmpty() {
		form.Set("client_id", c.clientID)
	} else {
		header.Set("Authorization", "Basic "+basicAuth(c.clientID, c.clientSecret.Value()))
	}

	return c.transport.Execute(ctx, &Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: header,
		Body:   []byte(form.Encode()),
	})
}

// tokenResponse is the wire form of a token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int64 `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
}

func parseTokenResponse(endpoint string, resp *Response) (*oauth.Token, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if authErr := decodeOAuthError(resp); authErr != nil {
			return nil, authErr
		}
		return nil, &oauth.HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	if mediaType(resp.Header) != "application/json" {
		return nil, &oauth.ParseError{Source: "token", Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &oauth.ParseError{Source: "token", Err: err}
	}

	if body.Error != "" {
		if authErr := decodeOAuthError(resp); authErr != nil {
			return nil, authErr
		}
	}
	if body.AccessToken == "" {
		return nil, &oauth.ParseError{Source: "token", Err: errors.New("missing access_token")}
	}
	if body.TokenType == "" {
		return nil, &oauth.ParseError{Source: "token", Err: errors.New("missing token_type")}
	}
	if body.ExpiresIn != nil && *body.ExpiresIn < 0 {
		return nil, &oauth.ParseError{Source: "token", Err: fmt.Errorf("negative expires_in %d", *body.ExpiresIn)}
	}

	token := &oauth.Token{
		AccessToken:  body.AccessToken,
		TokenType:    body.TokenType,
		RefreshToken: body.RefreshToken,
		IDToken:      body.IDToken,
		Scope:        body.Scope,
	}
	if body.ExpiresIn != nil {
		token.ExpiresIn = *body.ExpiresIn
		if token.ExpiresIn > oauth.MaxExpiresIn {
			logging.Debug("OIDC", "Clamping expires_in %d from %s", token.ExpiresIn, endpoint)
			token.ExpiresIn = oauth.MaxExpiresIn
		}
	}
	return token, nil
}

// oauthErrorBody is the RFC 6749 section 5.2 error response.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// decodeOAuthError returns the structured error carried by resp, or nil when
// the body is not an OAuth error document.
func decodeOAuthError(resp *Response) *oauth.AuthorizationError {
	if !strings.HasSuffix(mediaType(resp.Header), "json") {
		return nil
	}
	var body oauthErrorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Error == "" {
		return nil
	}
	return &oauth.AuthorizationError{
		Code:        body.Error,
		Description: body.ErrorDescription,
		URI:         body.ErrorURI,
		StatusCode:  resp.StatusCode,
	}
}

func mediaType(header http.Header) string {
	mt, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// basicAuth encodes credentials per RFC 6749 section 2.3.1.
func basicAuth(clientID, secret string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(secret))
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
