package oauth

import (
	"errors"
	"fmt"
)

// Flow usage errors.
var (
	// ErrFlowAlreadyInProgress is returned when a flow is started while another is pending.
	ErrFlowAlreadyInProgress = errors.New("authorization flow already in progress")

	// ErrNoFlowInProgress is returned when a redirect or completion has no pending flow.
	ErrNoFlowInProgress = errors.New("no authorization flow in progress")

	// ErrFlowCancelled is returned when a flow was cancelled before completion.
	ErrFlowCancelled = errors.New("authorization flow cancelled")

	// ErrNotAuthenticated is returned when an operation needs tokens and there are none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoRefreshToken is returned by refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// NetworkError reports a transport-level failure. It is the only error
// class a caller may retry without user interaction.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthorizationError is a structured OAuth error returned by the provider,
// either in a redirect or in a token endpoint body.
type AuthorizationError struct {
	Code        string
	Description string
	URI         string
	StatusCode  int
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}

// InvalidGrantError means the refresh token (or code) was rejected as
// invalid, expired or revoked. Stored credentials must be discarded.
type InvalidGrantError struct {
	Description string
}

// Error implements the error interface.
func (e *InvalidGrantError) Error() string {
	if e.Description != "" {
		return "invalid_grant: " + e.Description
	}
	return "invalid_grant"
}

// Unwrap exposes the equivalent AuthorizationError.
func (e *InvalidGrantError) Unwrap() error {
	return &AuthorizationError{Code: "invalid_grant", Description: e.Description}
}

// StateMismatchError is returned when a redirect carries a state that does
// not match the pending request. The flow is aborted.
type StateMismatchError struct {
	Expected string
	Received string
}

// Error implements the error interface.
// State values are not included to keep them out of logs.
func (e *StateMismatchError) Error() string {
	return "state mismatch - possible CSRF attack"
}

// IDTokenValidationError rejects an ID token and the token response that carried it.
type IDTokenValidationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *IDTokenValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid ID token: %s: %v", e.Reason, e.Err)
	}
	return "invalid ID token: " + e.Reason
}

// Unwrap returns the underlying validation error.
func (e *IDTokenValidationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports that a state mutation could not be durably saved.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist auth state (%s): %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed response or redirect.
type ParseError struct {
	Source string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Source, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnauthorizedError is returned when a resource rejects the access token with 401.
type UnauthorizedError struct {
	URL         string
	Challenge   string
	Description string
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("access token rejected by %s: %s", e.URL, e.Description)
	}
	return fmt.Sprintf("access token rejected by %s", e.URL)
}

// HTTPStatusError is an unexpected status without a structured OAuth error body.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// DiscoveryError reports a failure to resolve provider metadata.
type DiscoveryError struct {
	Issuer string
	Err    error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover provider metadata for %s: %v", e.Issuer, e.Err)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport failure that may succeed
// when retried without user interaction.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsInvalidGrant reports whether err means the stored grant is no longer valid.
func IsInvalidGrant(err error) bool {
	var invalidGrant *InvalidGrantError
	return errors.As(err, &invalidGrant)
}

// IsUnauthorized reports whether err is a 401 from a protected resource.
func IsUnauthorized(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}
