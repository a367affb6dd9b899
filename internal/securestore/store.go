package securestore

import (
	"context"
	"errors"
)

// SecureStore is a durable string-keyed, string-valued store for credential
// material. Encryption at rest is the backend's concern.
//
// Get reports found=false with a nil error when the key is absent.
type SecureStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Delete(ctx context.Context, key string) error
}

// Watchable is implemented by backends that can observe changes made by
// other processes. fn is called after each change until ctx is done.
type Watchable interface {
	Watch(ctx context.Context, fn func()) error
}

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("secure store key is empty")
