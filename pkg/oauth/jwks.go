package oauth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// minRSAKeyBits rejects RSA keys too small to trust for ID token signatures.
const minRSAKeyBits = 2048

type verificationKey struct {
	kid string
	kty string
	alg string
	key crypto.PublicKey
}

// KeySet holds the signature verification keys of a provider.
type KeySet struct {
	keys []verificationKey
}

// ErrKeyNotFound is returned when no key matches a token header.
var ErrKeyNotFound = errors.New("no matching signing key")

// ParseJWKS parses a JWKS document. Keys that are not signature keys or use
// an unsupported type are skipped; a document without any usable key is an error.
func ParseJWKS(data []byte) (*KeySet, error) {
	// Entries are decoded one by one so that a single key go-jose rejects
	// does not discard the whole set.
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	set := &KeySet{}
	var skipped []string
	for i, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			skipped = append(skipped, fmt.Sprintf("key %d: %v", i, err))
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		vk, err := newVerificationKey(jwk)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", jwk.KeyID, err))
			continue
		}
		set.keys = append(set.keys, vk)
	}

	if len(set.keys) == 0 {
		if len(skipped) > 0 {
			return nil, fmt.Errorf("JWKS contains no usable signing keys (%s)", strings.Join(skipped, "; "))
		}
		return nil, errors.New("JWKS contains no signing keys")
	}
	return set, nil
}

func newVerificationKey(jwk jose.JSONWebKey) (verificationKey, error) {
	if !jwk.IsPublic() {
		jwk = jwk.Public()
	}
	if !jwk.Valid() {
		return verificationKey{}, errors.New("not a public key")
	}

	kty := keyType(jwk.Key)
	if kty == "" {
		return verificationKey{}, fmt.Errorf("unsupported key type %T", jwk.Key)
	}
	if rsaKey, ok := jwk.Key.(*rsa.PublicKey); ok && rsaKey.N.BitLen() < minRSAKeyBits {
		return verificationKey{}, fmt.Errorf("RSA key too small: %d bits", rsaKey.N.BitLen())
	}
	return verificationKey{kid: jwk.KeyID, kty: kty, alg: jwk.Algorithm, key: jwk.Key}, nil
}

// NewKeySet builds a key set from already decoded public keys, keyed by kid.
func NewKeySet(keys map[string]crypto.PublicKey) *KeySet {
	set := &KeySet{}
	for kid, key := range keys {
		set.keys = append(set.keys, verificationKey{kid: kid, kty: keyType(key), key: key})
	}
	return set
}

// keyType returns the JWK kty of a public key, or "" if unsupported.
func keyType(key crypto.PublicKey) string {
	switch key.(type) {
	case *rsa.PublicKey:
		return "RSA"
	case *ecdsa.PublicKey:
		return "EC"
	case ed25519.PublicKey:
		return "OKP"
	default:
		return ""
	}
}

// Len returns the number of usable keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Lookup returns the key for a token header. When kid is empty the set must
// hold exactly one key compatible with alg.
func (s *KeySet) Lookup(kid, alg string) (crypto.PublicKey, error) {
	if s == nil {
		return nil, ErrKeyNotFound
	}
	kty := keyTypeForAlg(alg)
	if kty == "" {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	var candidates []verificationKey
	for _, k := range s.keys {
		if k.kty != kty || (k.alg != "" && k.alg != alg) {
			continue
		}
		if kid != "" && k.kid != kid {
			continue
		}
		candidates = append(candidates, k)
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: kid=%q alg=%s", ErrKeyNotFound, kid, alg)
	case 1:
		return candidates[0].key, nil
	default:
		return nil, fmt.Errorf("ambiguous signing key: %d keys match kid=%q alg=%s", len(candidates), kid, alg)
	}
}

func keyTypeForAlg(alg string) string {
	switch jose.SignatureAlgorithm(alg) {
	case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
		return "RSA"
	case jose.ES256, jose.ES384, jose.ES512:
		return "EC"
	case jose.EdDSA:
		return "OKP"
	default:
		return ""
	}
}
