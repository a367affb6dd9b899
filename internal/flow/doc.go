// Package flow drives the OAuth 2.0 authorization code flow with PKCE and
// owns the token lifecycle of one session.
//
// An Engine carries a login attempt from Start through HandleRedirect to
// persisted tokens:
//
//	IDLE -> AUTHORIZING -> EXCHANGING -> COMPLETE
//	             |              |
//	             v              v
//	         CANCELLED       FAILED
//
// At most one flow is pending per session. A redirect is only processed
// while its flow is AUTHORIZING and its state parameter matches; a mismatch
// fails the flow and leaves the stored tokens untouched. Cancelling during
// EXCHANGING lets the token request finish but discards its result.
//
// Refresh is independent of the login state machine. Concurrent callers of
// Refresh share a single in-flight token request and all observe its
// result. An invalid_grant response clears the session.
//
// The browser leg is delegated to a Browser, which receives the
// authorization URL and returns the terminal redirect URL or
// ErrUserCancelled.
package flow
