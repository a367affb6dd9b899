package cmd

import (
	"errors"
	"fmt"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// AuthRequiredError indicates authentication is needed.
// Implements error with actionable guidance.
type AuthRequiredError struct {
	// Issuer is the provider that requires authentication.
	Issuer string
	// Reason is the underlying error, if any.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To authenticate, run:
  oidcflow auth login

To check current authentication status:
  oidcflow auth status`, e.Issuer)
}

// Unwrap returns the underlying error.
func (e *AuthRequiredError) Unwrap() error {
	return e.Reason
}

// AuthFailedError indicates authentication failed.
type AuthFailedError struct {
	// Issuer is the provider where authentication failed.
	Issuer string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  oidcflow auth login`, e.Issuer, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// classifyAuthError wraps err in AuthRequiredError when the stored session
// is missing or no longer usable, and in AuthFailedError when the provider
// rejected the flow. Other errors are returned unchanged.
func classifyAuthError(issuer string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, oauth.ErrNotAuthenticated),
		errors.Is(err, oauth.ErrNoRefreshToken),
		oauth.IsInvalidGrant(err),
		oauth.IsUnauthorized(err):
		return &AuthRequiredError{Issuer: issuer, Reason: err}
	}

	var (
		authErr     *oauth.AuthorizationError
		stateErr    *oauth.StateMismatchError
		idTokenErr  *oauth.IDTokenValidationError
		discoverErr *oauth.DiscoveryError
	)
	switch {
	case errors.Is(err, oauth.ErrFlowCancelled),
		errors.Is(err, oauth.ErrFlowAlreadyInProgress),
		errors.As(err, &authErr),
		errors.As(err, &stateErr),
		errors.As(err, &idTokenErr),
		errors.As(err, &discoverErr):
		return &AuthFailedError{Issuer: issuer, Reason: err}
	}
	return err
}
