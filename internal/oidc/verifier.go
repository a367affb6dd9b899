package oidc

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// Verifier validates ID tokens against a provider's published keys.
type Verifier struct {
	keys      *KeyCache
	clientID  string
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier for clientID. A non-positive clockSkew uses
// oauth.DefaultClockSkew.
func NewVerifier(keys *KeyCache, clientID string, clockSkew time.Duration) *Verifier {
	if clockSkew <= 0 {
		clockSkew = oauth.DefaultClockSkew
	}
	return &Verifier{
		keys:      keys,
		clientID:  clientID,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

// Verify validates raw for meta. nonce is checked when set; subject is
// checked when set and must be used for tokens returned by refresh. When the
// token is signed with an unknown key the key set is refetched once.
func (v *Verifier) Verify(ctx context.Context, meta *oauth.Metadata, raw, nonce, subject string) (*oauth.IDTokenClaims, error) {
	if meta.JwksURI == "" {
		return nil, &oauth.IDTokenValidationError{Reason: "provider does not publish a jwks_uri"}
	}

	keys, err := v.keys.Keys(ctx, meta.JwksURI)
	if err != nil {
		return nil, err
	}

	opts := oauth.IDTokenValidationOptions{
		Issuer:     meta.Issuer,
		Audience:   v.clientID,
		Nonce:      nonce,
		Subject:    subject,
		Keys:       keys,
		Algorithms: meta.IDTokenSigningAlgValuesSupported,
		ClockSkew:  v.clockSkew,
		Now:        v.now,
	}

	claims, err := oauth.ValidateIDToken(raw, opts)
	if err == nil || !errors.Is(err, oauth.ErrKeyNotFound) {
		return claims, err
	}

	// Key rotation: the provider may have published a new key.
	keys, refreshErr := v.keys.Refresh(ctx, meta.JwksURI)
	if refreshErr != nil {
		return nil, refreshErr
	}
	opts.Keys = keys
	return oauth.ValidateIDToken(raw, opts)
}
