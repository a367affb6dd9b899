package authstate

import (
	"time"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// AuthState is the durable credential record of one session.
type AuthState struct {
	// Tokens is the current token set, nil before the first sign-in.
	Tokens *oauth.Token `json:"tokens,omitempty"`

	// Provider is the metadata the tokens were obtained from.
	Provider *oauth.Metadata `json:"provider,omitempty"`

	// Pending is the authorization request in flight, nil outside a flow.
	Pending *oauth.AuthorizationRequest `json:"pending,omitempty"`

	// UpdatedAt is when the state was last persisted.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. A nil state clones to an empty state.
func (s *AuthState) Clone() *AuthState {
	if s == nil {
		return &AuthState{}
	}
	return &AuthState{
		Tokens:    s.Tokens.Clone(),
		Provider:  s.Provider.Clone(),
		Pending:   s.Pending.Clone(),
		UpdatedAt: s.UpdatedAt,
	}
}

// IsAuthenticated reports whether the state holds an access token.
func (s *AuthState) IsAuthenticated() bool {
	return s != nil && s.Tokens != nil && s.Tokens.AccessToken != ""
}

// HasPendingFlow reports whether an authorization request is in flight.
func (s *AuthState) HasPendingFlow() bool {
	return s != nil && s.Pending != nil
}

// IsEmpty reports whether the state holds nothing worth persisting.
func (s *AuthState) IsEmpty() bool {
	return s == nil || (s.Tokens == nil && s.Provider == nil && s.Pending == nil)
}
