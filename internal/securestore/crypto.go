package securestore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// encryptedMagic prefixes every encrypted file.
var encryptedMagic = []byte("OFS1")

const saltSize = 16

// kdfParams are the Argon2id parameters used to derive the file key.
type kdfParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// defaultKDFParams follow the RFC 9106 second recommended option.
var defaultKDFParams = kdfParams{time: 3, memory: 64 * 1024, threads: 4}

func deriveKey(passphrase string, salt []byte, p kdfParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.time, p.memory, p.threads, chacha20poly1305.KeySize)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// seal encrypts plaintext with XChaCha20-Poly1305. The file name is bound as
// additional data so ciphertexts cannot be swapped between keys.
func seal(key []byte, name string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(encryptedMagic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(name)), nil
}

func open(key []byte, name string, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if !isEncrypted(data) {
		return nil, errors.New("file is not encrypted")
	}
	data = data[len(encryptedMagic):]
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("encrypted file is truncated")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, errors.New("failed to decrypt file: wrong passphrase or corrupted data")
	}
	return plaintext, nil
}

func isEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}
