package oauth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigJWK(kid, alg string, key interface{}) jose.JSONWebKey {
	return jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: alg, Use: "sig"}
}

func marshalJWKS(t *testing.T, keys ...jose.JSONWebKey) []byte {
	t.Helper()
	data, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err)
	return data
}

func TestParseJWKS_KeyTypes(t *testing.T) {
	rsaKey := generateRSAKey(t)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	data := marshalJWKS(t,
		sigJWK("rsa", "RS256", &rsaKey.PublicKey),
		jose.JSONWebKey{Key: &ecKey.PublicKey, KeyID: "ec"},
		jose.JSONWebKey{Key: edPub, KeyID: "ed"},
	)

	set, err := ParseJWKS(data)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	key, err := set.Lookup("rsa", "RS256")
	require.NoError(t, err)
	assert.True(t, rsaKey.PublicKey.Equal(key))

	key, err = set.Lookup("ec", "ES256")
	require.NoError(t, err)
	assert.True(t, ecKey.PublicKey.Equal(key))

	key, err = set.Lookup("ed", "EdDSA")
	require.NoError(t, err)
	assert.True(t, edPub.Equal(key))
}

func TestParseJWKS_PrivateKeyReducedToPublic(t *testing.T) {
	rsaKey := generateRSAKey(t)

	set, err := ParseJWKS(marshalJWKS(t, sigJWK("rsa", "RS256", rsaKey)))
	require.NoError(t, err)

	key, err := set.Lookup("rsa", "RS256")
	require.NoError(t, err)
	_, isPublic := key.(*rsa.PublicKey)
	assert.True(t, isPublic)
	assert.True(t, rsaKey.PublicKey.Equal(key))
}

func TestParseJWKS_SkipsUnusableKeys(t *testing.T) {
	rsaKey := generateRSAKey(t)

	enc := sigJWK("enc", "RS256", &rsaKey.PublicKey)
	enc.Use = "enc"

	data := marshalJWKS(t,
		enc,
		jose.JSONWebKey{Key: []byte("0123456789abcdef0123456789abcdef"), KeyID: "oct"},
		sigJWK("sig", "RS256", &rsaKey.PublicKey),
	)
	// An entry go-jose cannot decode at all.
	var doc map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["keys"] = append(doc["keys"], json.RawMessage(`{"kty":"unknown","kid":"weird"}`))
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	set, err := ParseJWKS(data)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())

	_, err = set.Lookup("enc", "RS256")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	_, err = set.Lookup("oct", "HS256")
	assert.Error(t, err)
}

func TestParseJWKS_Errors(t *testing.T) {
	smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("<html>")},
		{name: "no keys", data: []byte(`{"keys":[]}`)},
		{name: "rsa key too small", data: marshalJWKS(t, sigJWK("small", "RS256", &smallKey.PublicKey))},
		{name: "ec point off curve", data: []byte(`{"keys":[{"kty":"EC","crv":"P-256","x":"AQ","y":"AQ"}]}`)},
		{name: "missing modulus", data: []byte(`{"keys":[{"kty":"RSA","e":"AQAB"}]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJWKS(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestKeySet_Lookup(t *testing.T) {
	first := generateRSAKey(t)
	second := generateRSAKey(t)

	t.Run("empty kid with single key", func(t *testing.T) {
		set, err := ParseJWKS(marshalJWKS(t, sigJWK("a", "RS256", &first.PublicKey)))
		require.NoError(t, err)

		key, err := set.Lookup("", "RS256")
		require.NoError(t, err)
		assert.True(t, first.PublicKey.Equal(key))
	})

	t.Run("empty kid with several keys is ambiguous", func(t *testing.T) {
		set, err := ParseJWKS(marshalJWKS(t, sigJWK("a", "RS256", &first.PublicKey), sigJWK("b", "RS256", &second.PublicKey)))
		require.NoError(t, err)

		_, err = set.Lookup("", "RS256")
		assert.ErrorContains(t, err, "ambiguous")
	})

	t.Run("key algorithm must match", func(t *testing.T) {
		set, err := ParseJWKS(marshalJWKS(t, sigJWK("a", "RS256", &first.PublicKey)))
		require.NoError(t, err)

		_, err = set.Lookup("a", "PS256")
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("algorithm family must match key type", func(t *testing.T) {
		set, err := ParseJWKS(marshalJWKS(t, jose.JSONWebKey{Key: &first.PublicKey, KeyID: "a"}))
		require.NoError(t, err)

		_, err = set.Lookup("a", "ES256")
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		set, err := ParseJWKS(marshalJWKS(t, sigJWK("a", "RS256", &first.PublicKey)))
		require.NoError(t, err)

		_, err = set.Lookup("a", "HS256")
		assert.ErrorContains(t, err, "unsupported signing algorithm")
	})

	t.Run("nil set", func(t *testing.T) {
		var set *KeySet
		assert.Equal(t, 0, set.Len())
		_, err := set.Lookup("a", "RS256")
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})
}
