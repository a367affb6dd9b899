package oauth

import (
	"crypto/subtle"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultClockSkew is the tolerance applied to exp/iat checks.
const DefaultClockSkew = 2 * time.Minute

// IDTokenClaims holds the claims of a validated OIDC ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims

	// Nonce echoes the nonce of the authorization request.
	Nonce string `json:"nonce,omitempty"`

	// AuthorizedParty is the client the token was issued to (azp claim).
	AuthorizedParty string `json:"azp,omitempty"`

	// AuthTime is when the end-user authentication occurred.
	AuthTime int64 `json:"auth_time,omitempty"`

	// Email is the user's email address (email claim).
	Email string `json:"email,omitempty"`

	// EmailVerified reports whether the provider verified the email.
	EmailVerified bool `json:"email_verified,omitempty"`

	// Name is the user's display name.
	Name string `json:"name,omitempty"`

	// PreferredUsername is the user's preferred username.
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// IDTokenValidationOptions configures ValidateIDToken.
type IDTokenValidationOptions struct {
	// Issuer must equal the iss claim exactly.
	Issuer string

	// Audience is the client id; it must be contained in aud.
	Audience string

	// Nonce, when set, must equal the nonce claim.
	Nonce string

	// Subject, when set, must equal the sub claim (used after refresh).
	Subject string

	// Keys are the provider's signing keys.
	Keys *KeySet

	// Algorithms are the accepted JWS algorithms. Defaults to RS256.
	Algorithms []string

	// ClockSkew is the tolerance for exp and iat.
	ClockSkew time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// ValidateIDToken verifies the signature and claims of an ID token. Every
// check must pass; on failure an *IDTokenValidationError is returned and no
// claims are exposed.
func ValidateIDToken(raw string, opts IDTokenValidationOptions) (*IDTokenClaims, error) {
	if raw == "" {
		return nil, &IDTokenValidationError{Reason: "empty token"}
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, &IDTokenValidationError{Reason: "issuer and audience are required for validation"}
	}
	if opts.Keys.Len() == 0 {
		return nil, &IDTokenValidationError{Reason: "no signing keys available"}
	}

	algorithms := slices.DeleteFunc(slices.Clone(opts.Algorithms), func(alg string) bool {
		return alg == "" || alg == "none"
	})
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(algorithms),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.ClockSkew),
		jwt.WithTimeFunc(now),
	)

	claims := &IDTokenClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return opts.Keys.Lookup(kid, t.Method.Alg())
	})
	if err != nil {
		return nil, &IDTokenValidationError{Reason: idTokenErrorReason(err), Err: err}
	}

	if claims.IssuedAt == nil {
		return nil, &IDTokenValidationError{Reason: "missing iat claim"}
	}
	if claims.Subject == "" {
		return nil, &IDTokenValidationError{Reason: "missing sub claim"}
	}
	if len(claims.Audience) > 1 && claims.AuthorizedParty == "" {
		return nil, &IDTokenValidationError{Reason: "missing azp claim for multiple audiences"}
	}
	if claims.AuthorizedParty != "" && claims.AuthorizedParty != opts.Audience {
		return nil, &IDTokenValidationError{Reason: "azp does not match client id"}
	}
	if opts.Nonce != "" && subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(opts.Nonce)) != 1 {
		return nil, &IDTokenValidationError{Reason: "nonce mismatch"}
	}
	if opts.Subject != "" && claims.Subject != opts.Subject {
		return nil, &IDTokenValidationError{Reason: "subject changed"}
	}

	return claims, nil
}

// ParseIDTokenClaimsUnverified decodes claims without verifying anything.
// Only use it for display of tokens that were validated when stored.
func ParseIDTokenClaimsUnverified(raw string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func idTokenErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return "unknown signing key"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature verification failed"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "issued in the future"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing required claim"
	default:
		return "invalid token"
	}
}
