package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy, which is recommended for security.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	// 32 bytes encodes to 43 base64url characters, satisfying OAuth servers that
	// require a minimum of 32 characters.
	stateBytes = 32

	// nonceBytes is the number of random bytes for the OIDC nonce.
	nonceBytes = 32
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random string (base64url-encoded).
	// This is kept secret and never transmitted to the authorization endpoint.
	CodeVerifier string `json:"code_verifier"`

	// CodeChallenge is the transformed verifier sent in the authorization request.
	CodeChallenge string `json:"code_challenge"`

	// CodeChallengeMethod is "S256", or "plain" for providers without S256.
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// GeneratePKCE generates a new PKCE code verifier and S256 challenge.
// The code verifier is 32 random bytes (256 bits), base64url-encoded.
func GeneratePKCE() (*PKCEChallenge, error) {
	return generatePKCE(PKCEMethodS256)
}

// GeneratePKCEForMethods generates a PKCE challenge using the best method the
// provider advertises. S256 is used when advertised or when the provider
// advertises nothing; plain is used only when the provider lists plain and
// not S256.
func GeneratePKCEForMethods(supported []string) (*PKCEChallenge, error) {
	switch {
	case len(supported) == 0, slices.Contains(supported, PKCEMethodS256):
		return generatePKCE(PKCEMethodS256)
	case slices.Contains(supported, PKCEMethodPlain):
		return generatePKCE(PKCEMethodPlain)
	default:
		return nil, fmt.Errorf("provider supports no usable PKCE method: %v", supported)
	}
}

func generatePKCE(method string) (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	// Base64url-encode the verifier (no padding, URL-safe)
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	challenge, err := ChallengeFromVerifier(verifier, method)
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
	}, nil
}

// ChallengeFromVerifier derives the code challenge for a verifier.
func ChallengeFromVerifier(verifier, method string) (string, error) {
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	case PKCEMethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported code challenge method %q", method)
	}
}

// Matches reports whether the challenge is the transform of the verifier.
func (p *PKCEChallenge) Matches() bool {
	if p == nil {
		return false
	}
	challenge, err := ChallengeFromVerifier(p.CodeVerifier, p.CodeChallengeMethod)
	return err == nil && challenge == p.CodeChallenge
}

// GenerateState generates a random state parameter for OAuth.
// The state is used to prevent CSRF attacks and link the authorization
// response back to the original request.
func GenerateState() (string, error) {
	return randomString(stateBytes, "state")
}

// GenerateNonce generates a random nonce for OIDC ID token replay protection.
// It draws fresh randomness independently of GenerateState.
func GenerateNonce() (string, error) {
	return randomString(nonceBytes, "nonce")
}

func randomString(n int, what string) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", what, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
