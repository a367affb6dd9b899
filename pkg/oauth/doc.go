// Package oauth provides the protocol types and cryptographic utilities of
// the OIDC client.
//
// # Core Components
//
//   - Token: token endpoint response with absolute expiry
//   - Metadata: provider configuration from the discovery document
//   - AuthorizationRequest / AuthorizationResponse: the per-flow secrets and
//     the parsed browser redirect
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - KeySet / ValidateIDToken: JWKS parsing and ID token validation
//   - Errors: the typed failure taxonomy shared by every layer
//
// # Security
//
// State, nonce and PKCE verifiers are drawn from crypto/rand and never
// derived from predictable input. ValidateIDToken grants no partial trust:
// a single failed check rejects the token and, in the flow engine, the whole
// token response that carried it.
//
// # Usage
//
//	req, err := oauth.NewAuthorizationRequest(issuer, redirectURI, oauth.DefaultScopes, meta.CodeChallengeMethodsSupported)
//	claims, err := oauth.ValidateIDToken(tok.IDToken, oauth.IDTokenValidationOptions{
//	    Issuer:   meta.Issuer,
//	    Audience: clientID,
//	    Nonce:    req.Nonce,
//	    Keys:     keys,
//	})
package oauth
