package oauth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *AuthChallenge
		wantErr bool
	}{
		{
			name:   "simple bearer",
			header: "Bearer",
			want:   &AuthChallenge{Scheme: "Bearer"},
		},
		{
			name:   "bearer with realm and scope",
			header: `Bearer realm="api", scope="openid profile"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "api",
				Scope:  "openid profile",
			},
		},
		{
			name:   "bearer with error",
			header: `Bearer error="invalid_token", error_description="The token has expired"`,
			want: &AuthChallenge{
				Scheme:           "Bearer",
				Error:            "invalid_token",
				ErrorDescription: "The token has expired",
			},
		},
		{
			name:   "parameter names are case-insensitive",
			header: `Bearer Error="insufficient_scope"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Error:  "insufficient_scope",
			},
		},
		{
			name:    "empty header",
			header:  "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewUnauthorizedError(t *testing.T) {
	t.Run("without challenge", func(t *testing.T) {
		err := NewUnauthorizedError("https://api.example.com/userinfo", http.Header{})
		assert.Equal(t, "https://api.example.com/userinfo", err.URL)
		assert.Empty(t, err.Challenge)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("with challenge", func(t *testing.T) {
		header := http.Header{}
		header.Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)

		err := NewUnauthorizedError("https://api.example.com/userinfo", header)
		assert.Equal(t, "expired", err.Description)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("error code without description", func(t *testing.T) {
		header := http.Header{}
		header.Set("WWW-Authenticate", `Bearer error="invalid_token"`)

		err := NewUnauthorizedError("https://api.example.com/userinfo", header)
		assert.Equal(t, "invalid_token", err.Description)
	})
}
