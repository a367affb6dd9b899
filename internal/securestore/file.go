package securestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFileStoreDir is the default directory below the user's home.
const DefaultFileStoreDir = ".config/oidcflow/store"

const (
	fileExt  = ".dat"
	saltFile = ".salt"
)

// FileConfig configures the file backend.
type FileConfig struct {
	// Dir is the storage directory. Defaults to ~/.config/oidcflow/store.
	Dir string

	// Passphrase enables XChaCha20-Poly1305 encryption with an Argon2id
	// derived key. Empty stores values in plaintext files.
	Passphrase string

	// Logger receives audit logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// File stores each key in its own file.
//
// SECURITY: This store handles sensitive OAuth credentials. The following
// security measures are implemented:
//   - Files are created with 0600 permissions (owner read/write only)
//   - Storage directory is created with 0700 permissions (owner only)
//   - File names are SHA-256 hashes of keys
//   - Writes go to a temp file that is renamed into place
//   - Values are NEVER logged
type File struct {
	mu     sync.Mutex
	dir    string
	key    []byte
	logger *slog.Logger

	debounce time.Duration
}

// NewFile creates a file store, creating the directory when needed.
func NewFile(cfg FileConfig) (*File, error) {
	return newFile(cfg, defaultKDFParams)
}

func newFile(cfg FileConfig, params kdfParams) (*File, error) {
	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultFileStoreDir)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &File{
		dir:      dir,
		logger:   logger,
		debounce: DefaultDebounceInterval,
	}

	if cfg.Passphrase != "" {
		salt, err := f.loadOrCreateSalt()
		if err != nil {
			return nil, err
		}
		f.key = deriveKey(cfg.Passphrase, salt, params)
	}

	return f, nil
}

// Dir returns the storage directory.
func (f *File) Dir() string {
	return f.dir
}

// Encrypted reports whether values are encrypted at rest.
func (f *File) Encrypted() bool {
	return f.key != nil
}

// Put writes value under key.
func (f *File) Put(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := fileName(key)
	data := []byte(value)
	if f.key != nil {
		sealed, err := seal(f.key, name, data)
		if err != nil {
			return fmt.Errorf("failed to encrypt value: %w", err)
		}
		data = sealed
	}

	if err := writeFileAtomic(filepath.Join(f.dir, name), data); err != nil {
		// SECURITY AUDIT: credential storage failed
		f.logger.Warn("SECURITY_AUDIT: secure store write failed",
			"event", "store_write_failed",
			"file", name,
			"error", err.Error(),
		)
		return err
	}

	f.logger.Debug("SECURITY_AUDIT: secure store write",
		"event", "store_written",
		"file", name,
		"encrypted", f.key != nil,
	)
	return nil
}

// Get reads the value stored under key.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := fileName(key)
	// #nosec G304 -- path is built from a hash, not user input
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read store file: %w", err)
	}

	switch {
	case f.key != nil:
		plaintext, err := open(f.key, name, data)
		if err != nil {
			return "", false, err
		}
		return string(plaintext), true, nil
	case isEncrypted(data):
		return "", false, errors.New("store file is encrypted but no passphrase is configured")
	default:
		return string(data), true, nil
	}
}

// Delete removes key. Deleting an absent key is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := fileName(key)
	err := os.Remove(filepath.Join(f.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("SECURITY_AUDIT: secure store delete failed",
			"event", "store_delete_failed",
			"file", name,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to delete store file: %w", err)
	}

	f.logger.Debug("SECURITY_AUDIT: secure store delete",
		"event", "store_deleted",
		"file", name,
	)
	return nil
}

func (f *File) loadOrCreateSalt() ([]byte, error) {
	path := filepath.Join(f.dir, saltFile)

	// #nosec G304 -- fixed file name inside the store directory
	salt, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(salt) != saltSize {
			return nil, fmt.Errorf("salt file %s is corrupted", path)
		}
		return salt, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt, err = newSalt()
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// fileName generates a filesystem-safe name for key.
// Uses the first 16 bytes of the SHA256 hash (32 hex chars).
func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + fileExt
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
