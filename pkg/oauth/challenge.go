package oauth

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

// AuthChallenge is a parsed WWW-Authenticate challenge (RFC 6750 section 3).
type AuthChallenge struct {
	// Scheme is the authentication scheme, usually "Bearer".
	Scheme string

	// Realm is the protection space of the resource.
	Realm string

	// Scope lists the scopes the resource requires.
	Scope string

	// Error is the OAuth error code, e.g. "invalid_token".
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

var authParamRegex = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
//
// Example headers:
//
//	Bearer realm="example"
//	Bearer error="invalid_token", error_description="The access token expired"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, errors.New("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	challenge := &AuthChallenge{Scheme: scheme}

	for _, match := range authParamRegex.FindAllStringSubmatch(rest, -1) {
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = match[2]
		case "scope":
			challenge.Scope = match[2]
		case "error":
			challenge.Error = match[2]
		case "error_description":
			challenge.ErrorDescription = match[2]
		}
	}

	return challenge, nil
}

// NewUnauthorizedError builds the error for a 401 from a protected resource,
// using the WWW-Authenticate header when present.
func NewUnauthorizedError(url string, header http.Header) *UnauthorizedError {
	unauthorized := &UnauthorizedError{URL: url}
	raw := header.Get("WWW-Authenticate")
	if raw == "" {
		return unauthorized
	}
	unauthorized.Challenge = raw
	if challenge, err := ParseWWWAuthenticate(raw); err == nil {
		unauthorized.Description = challenge.ErrorDescription
		if unauthorized.Description == "" {
			unauthorized.Description = challenge.Error
		}
	}
	return unauthorized
}
