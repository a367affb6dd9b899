package oidc

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oidcflow/internal/oidc/oidctest"
	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const testRedirectURI = "http://127.0.0.1:8085/callback"

func newTestRequest(t *testing.T, issuer string) *oauth.AuthorizationRequest {
	t.Helper()
	req, err := oauth.NewAuthorizationRequest(issuer, testRedirectURI, oauth.DefaultScopes, nil)
	require.NoError(t, err)
	return req
}

// staticTransport answers every request with the same response.
func staticTransport(status int, contentType, body string) Transport {
	return TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		header := http.Header{}
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		return &Response{StatusCode: status, Header: header, Body: []byte(body)}, nil
	})
}

func testMetadata() *oauth.Metadata {
	return &oauth.Metadata{
		Issuer:                "https://issuer.example.com",
		AuthorizationEndpoint: "https://issuer.example.com/authorize",
		TokenEndpoint:         "https://issuer.example.com/token",
		RevocationEndpoint:    "https://issuer.example.com/revoke",
		UserinfoEndpoint:      "https://issuer.example.com/userinfo",
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	client := NewClient(staticTransport(http.StatusOK, "", ""), "my-client")
	meta := testMetadata()
	meta.AuthorizationEndpoint = "https://issuer.example.com/authorize?tenant=acme"
	req := newTestRequest(t, meta.Issuer)

	extra := url.Values{
		"prompt":       {"login"},
		"login_hint":   {"user@example.com"},
		"state":        {"attacker-state"},
		"redirect_uri": {"https://evil.example.com"},
	}

	raw, err := client.BuildAuthorizationURL(meta, req, extra)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "issuer.example.com", u.Host)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "my-client", q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "openid profile email offline_access", q.Get("scope"))
	assert.Equal(t, req.State, q.Get("state"))
	assert.Equal(t, req.Nonce, q.Get("nonce"))
	assert.Equal(t, req.PKCE.CodeChallenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "acme", q.Get("tenant"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "user@example.com", q.Get("login_hint"))

	assert.NotContains(t, raw, req.PKCE.CodeVerifier)
	assert.False(t, q.Has("code_verifier"))
}

func TestBuildAuthorizationURL_Errors(t *testing.T) {
	client := NewClient(staticTransport(http.StatusOK, "", ""), "my-client")
	req := newTestRequest(t, "https://issuer.example.com")

	_, err := client.BuildAuthorizationURL(&oauth.Metadata{}, req, nil)
	assert.Error(t, err)

	_, err = client.BuildAuthorizationURL(testMetadata(), &oauth.AuthorizationRequest{}, nil)
	assert.Error(t, err)
}

func TestExchangeCode_AgainstProvider(t *testing.T) {
	provider := oidctest.NewProvider(t)
	client := NewClient(NewHTTPTransport(), provider.ClientID)
	meta := provider.Metadata()
	req := newTestRequest(t, meta.Issuer)

	authURL, err := client.BuildAuthorizationURL(meta, req, nil)
	require.NoError(t, err)

	resp, err := oauth.ParseAuthorizationResponse(provider.Authorize(t, authURL), testRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, req.State, resp.State)

	before := time.Now()
	token, err := client.ExchangeCode(context.Background(), meta, req, resp.Code)
	require.NoError(t, err)

	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.RefreshToken)
	assert.NotEmpty(t, token.IDToken)
	assert.Equal(t, meta.Issuer, token.Issuer)
	assert.WithinDuration(t, before.Add(time.Hour), token.ExpiresAt, 5*time.Second)
	assert.Equal(t, 1, provider.ExchangeCalls())
}

func TestExchangeCode_WrongVerifierRejected(t *testing.T) {
	provider := oidctest.NewProvider(t)
	client := NewClient(NewHTTPTransport(), provider.ClientID)
	meta := provider.Metadata()
	req := newTestRequest(t, meta.Issuer)

	authURL, err := client.BuildAuthorizationURL(meta, req, nil)
	require.NoError(t, err)
	resp, err := oauth.ParseAuthorizationResponse(provider.Authorize(t, authURL), testRedirectURI)
	require.NoError(t, err)

	req.PKCE.CodeVerifier = "tampered-verifier-tampered-verifier-tampered"
	_, err = client.ExchangeCode(context.Background(), meta, req, resp.Code)

	var authErr *oauth.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
}

func TestTokenResponseValidation(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		check       func(t *testing.T, token *oauth.Token, err error)
	}{
		{
			name:        "valid",
			status:      http.StatusOK,
			contentType: "application/json; charset=utf-8",
			body:        `{"access_token":"at","token_type":"Bearer","expires_in":60,"scope":"openid"}`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				require.NoError(t, err)
				assert.Equal(t, "at", token.AccessToken)
				assert.Equal(t, int64(60), token.ExpiresIn)
				assert.Equal(t, "openid", token.Scope)
			},
		},
		{
			name:        "no expiry",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"at","token_type":"Bearer"}`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				require.NoError(t, err)
				assert.True(t, token.ExpiresAt.IsZero())
			},
		},
		{
			name:        "provider error",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"error":"invalid_client","error_description":"Client authentication failed","error_uri":"https://docs"}`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				var authErr *oauth.AuthorizationError
				require.True(t, errors.As(err, &authErr))
				assert.Equal(t, "invalid_client", authErr.Code)
				assert.Equal(t, "Client authentication failed", authErr.Description)
				assert.Equal(t, "https://docs", authErr.URI)
				assert.Nil(t, token)
			},
		},
		{
			name:        "error in 200 body",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"error":"server_error"}`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				var authErr *oauth.AuthorizationError
				require.True(t, errors.As(err, &authErr))
				assert.Equal(t, "server_error", authErr.Code)
			},
		},
		{
			name:        "html error page",
			status:      http.StatusBadGateway,
			contentType: "text/html",
			body:        `<html>bad gateway</html>`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				var statusErr *oauth.HTTPStatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
			},
		},
		{
			name:        "wrong content type",
			status:      http.StatusOK,
			contentType: "text/plain",
			body:        `access_token=at&token_type=bearer`,
			check:       assertParseError,
		},
		{
			name:        "malformed json",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":`,
			check:       assertParseError,
		},
		{
			name:        "missing access token",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"token_type":"Bearer"}`,
			check:       assertParseError,
		},
		{
			name:        "missing token type",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"at"}`,
			check:       assertParseError,
		},
		{
			name:        "negative expires_in",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"at","token_type":"Bearer","expires_in":-5}`,
			check:       assertParseError,
		},
		{
			name:        "huge expires_in is clamped",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"at","token_type":"Bearer","expires_in":9300000000}`,
			check: func(t *testing.T, token *oauth.Token, err error) {
				require.NoError(t, err)
				assert.Equal(t, oauth.MaxExpiresIn, token.ExpiresIn)
				assert.False(t, token.IsExpired())
				assert.True(t, token.ExpiresAt.After(time.Now().Add(365*24*time.Hour)))
			},
		},
		{
			name:        "string expires_in",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"at","token_type":"Bearer","expires_in":"3600"}`,
			check:       assertParseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(staticTransport(tt.status, tt.contentType, tt.body), "my-client")
			token, err := client.ExchangeCode(context.Background(), testMetadata(), newTestRequest(t, "https://issuer.example.com"), "code")
			tt.check(t, token, err)
		})
	}
}

func assertParseError(t *testing.T, token *oauth.Token, err error) {
	t.Helper()
	var parseErr *oauth.ParseError
	require.True(t, errors.As(err, &parseErr), "expected ParseError, got %v", err)
	assert.Equal(t, "token", parseErr.Source)
	assert.Nil(t, token)
}

func TestRefreshToken(t *testing.T) {
	t.Run("invalid_grant", func(t *testing.T) {
		client := NewClient(staticTransport(http.StatusBadRequest, "application/json", `{"error":"invalid_grant","error_description":"revoked"}`), "my-client")
		_, err := client.RefreshToken(context.Background(), testMetadata(), "rt", nil)

		var invalidGrant *oauth.InvalidGrantError
		require.True(t, errors.As(err, &invalidGrant))
		assert.Equal(t, "revoked", invalidGrant.Description)
		assert.True(t, oauth.IsInvalidGrant(err))
		assert.False(t, oauth.IsRetryable(err))
	})

	t.Run("network failure is not invalid_grant", func(t *testing.T) {
		client := NewClient(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return nil, &oauth.NetworkError{Op: req.Method, URL: req.URL, Err: errors.New("reset")}
		}), "my-client")
		_, err := client.RefreshToken(context.Background(), testMetadata(), "rt", nil)
		assert.True(t, oauth.IsRetryable(err))
		assert.False(t, oauth.IsInvalidGrant(err))
	})

	t.Run("sends grant and scope", func(t *testing.T) {
		var form url.Values
		client := NewClient(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
			var err error
			form, err = url.ParseQuery(string(req.Body))
			require.NoError(t, err)
			return &Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"application/json"}},
				Body:       []byte(`{"access_token":"new","token_type":"Bearer"}`),
			}, nil
		}), "my-client")

		token, err := client.RefreshToken(context.Background(), testMetadata(), "rt", []string{"openid", "email"})
		require.NoError(t, err)
		assert.Equal(t, "new", token.AccessToken)
		assert.Empty(t, token.RefreshToken)
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "rt", form.Get("refresh_token"))
		assert.Equal(t, "openid email", form.Get("scope"))
		assert.Equal(t, "my-client", form.Get("client_id"))
	})

	t.Run("no refresh token", func(t *testing.T) {
		client := NewClient(staticTransport(http.StatusOK, "", ""), "my-client")
		_, err := client.RefreshToken(context.Background(), testMetadata(), "", nil)
		assert.ErrorIs(t, err, oauth.ErrNoRefreshToken)
	})
}

func TestClientSecretUsesBasicAuth(t *testing.T) {
	var req *Request
	client := NewClient(TransportFunc(func(ctx context.Context, r *Request) (*Response, error) {
		req = r
		return &Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(`{"access_token":"at","token_type":"Bearer"}`),
		}, nil
	}), "my client", WithClientSecret("s3cr:t"))

	_, err := client.RefreshToken(context.Background(), testMetadata(), "rt", nil)
	require.NoError(t, err)

	httpReq := &http.Request{Header: req.Header}
	user, pass, ok := httpReq.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "my+client", user)
	assert.Equal(t, "s3cr%3At", pass)

	form, err := url.ParseQuery(string(req.Body))
	require.NoError(t, err)
	assert.False(t, form.Has("client_id"))
}

func TestRevokeToken(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantErr     bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "no content", status: http.StatusNoContent},
		{name: "not found", status: http.StatusNotFound},
		{name: "invalid token", status: http.StatusBadRequest, contentType: "application/json", body: `{"error":"invalid_token"}`},
		{name: "unsupported token type", status: http.StatusBadRequest, contentType: "application/json", body: `{"error":"unsupported_token_type"}`},
		{name: "invalid client", status: http.StatusUnauthorized, contentType: "application/json", body: `{"error":"invalid_client"}`},
		{name: "server error", status: http.StatusInternalServerError, contentType: "text/plain", body: "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(staticTransport(tt.status, tt.contentType, tt.body), "my-client")
			err := client.RevokeToken(context.Background(), testMetadata(), "token", TokenTypeHintRefreshToken)
			assert.NoError(t, err)
		})
	}

	t.Run("transport failure", func(t *testing.T) {
		client := NewClient(TransportFunc(func(context.Context, *Request) (*Response, error) {
			return nil, &oauth.NetworkError{Op: "POST", URL: "https://idp.example.com/revoke", Err: errors.New("connection refused")}
		}), "my-client")
		err := client.RevokeToken(context.Background(), testMetadata(), "token", TokenTypeHintRefreshToken)
		var netErr *oauth.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.True(t, oauth.IsRetryable(err))
	})

	t.Run("no revocation endpoint", func(t *testing.T) {
		var calls int
		client := NewClient(TransportFunc(func(context.Context, *Request) (*Response, error) {
			calls++
			return &Response{StatusCode: http.StatusOK}, nil
		}), "my-client")
		require.NoError(t, client.RevokeToken(context.Background(), &oauth.Metadata{}, "token", ""))
		assert.Zero(t, calls)
	})

	t.Run("against provider", func(t *testing.T) {
		provider := oidctest.NewProvider(t)
		client := NewClient(NewHTTPTransport(), provider.ClientID)
		require.NoError(t, client.RevokeToken(context.Background(), provider.Metadata(), "refresh-1", TokenTypeHintRefreshToken))
		assert.Equal(t, []string{"refresh-1"}, provider.Revoked())
	})
}

func TestRevokeToken_LogsUnderOIDCSubsystem(t *testing.T) {
	var buf bytes.Buffer
	logging.InitForCLI(logging.LevelDebug, &buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelInfo, &bytes.Buffer{}) })

	client := NewClient(staticTransport(http.StatusBadRequest, "application/json", `{"error":"unsupported_token_type"}`), "my-client")
	require.NoError(t, client.RevokeToken(context.Background(), testMetadata(), "secret-refresh-token", TokenTypeHintRefreshToken))

	output := buf.String()
	assert.Contains(t, output, "subsystem=OIDC")
	assert.Contains(t, output, "unsupported_token_type")
	assert.NotContains(t, output, "secret-refresh-token")
}

func TestUserInfo(t *testing.T) {
	provider := oidctest.NewProvider(t)
	client := NewClient(NewHTTPTransport(), provider.ClientID)

	t.Run("success", func(t *testing.T) {
		info, err := client.UserInfo(context.Background(), provider.Metadata(), "access-1")
		require.NoError(t, err)
		assert.Equal(t, oidctest.DefaultSubject, info.Subject)
		assert.Equal(t, "user@example.com", info.Email)
		assert.True(t, info.EmailVerified)
		assert.Equal(t, "Test User", info.Claims["name"])
	})

	t.Run("unauthorized", func(t *testing.T) {
		_, err := client.UserInfo(context.Background(), provider.Metadata(), "stale")
		var unauthorized *oauth.UnauthorizedError
		require.True(t, errors.As(err, &unauthorized))
		assert.Equal(t, "The access token is invalid", unauthorized.Description)
	})

	t.Run("other status", func(t *testing.T) {
		client := NewClient(staticTransport(http.StatusForbidden, "text/plain", "no"), "my-client")
		_, err := client.UserInfo(context.Background(), testMetadata(), "at")
		var statusErr *oauth.HTTPStatusError
		require.True(t, errors.As(err, &statusErr))
		assert.False(t, oauth.IsUnauthorized(err))
	})

	t.Run("jwt body", func(t *testing.T) {
		raw := provider.SignIDToken(t, provider.IDTokenClaims(""))
		client := NewClient(staticTransport(http.StatusOK, "application/jwt", raw), "my-client")
		info, err := client.UserInfo(context.Background(), testMetadata(), "at")
		require.NoError(t, err)
		assert.Equal(t, oidctest.DefaultSubject, info.Subject)
	})

	t.Run("missing sub", func(t *testing.T) {
		client := NewClient(staticTransport(http.StatusOK, "application/json", `{"email":"x"}`), "my-client")
		_, err := client.UserInfo(context.Background(), testMetadata(), "at")
		var parseErr *oauth.ParseError
		assert.True(t, errors.As(err, &parseErr))
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := client.UserInfo(context.Background(), &oauth.Metadata{}, "at")
		assert.ErrorIs(t, err, ErrUserInfoUnsupported)
	})
}

func TestClientRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	client := NewClient(staticTransport(http.StatusBadRequest, "application/json", `{"error":"invalid_grant"}`), "my-client",
		WithTracerProvider(tp))

	_, err := client.RefreshToken(context.Background(), testMetadata(), "rt", nil)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "oidc.RefreshToken", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	for _, attr := range spans[0].Attributes() {
		assert.NotEqual(t, "rt", attr.Value.Emit(), "span attribute %s leaks the refresh token", attr.Key)
	}
}
