package authstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/giantswarm/oidcflow/internal/securestore"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// currentVersion is the version written by Encode.
const currentVersion = 1

// stateKeySuffix is appended to the session name to form the storage key.
const stateKeySuffix = ".auth_state"

// Restorer restores one persisted entity type: Key names the storage entry
// and Decode turns its value back into the entity.
type Restorer[T any] struct {
	Key    string
	Decode func(string) (T, error)
}

// Restore reads and decodes the entry of r. found is false when the entry
// does not exist.
func Restore[T any](ctx context.Context, store securestore.SecureStore, r Restorer[T]) (value T, found bool, err error) {
	raw, ok, err := store.Get(ctx, r.Key)
	if err != nil || !ok {
		return value, false, err
	}
	value, err = r.Decode(raw)
	if err != nil {
		return value, false, err
	}
	return value, true, nil
}

// StateKey returns the storage key of a session's AuthState.
func StateKey(session string) string {
	return session + stateKeySuffix
}

// StateRestorer restores the AuthState of session.
func StateRestorer(session string) Restorer[*AuthState] {
	return Restorer[*AuthState]{
		Key:    StateKey(session),
		Decode: Decode,
	}
}

type envelope struct {
	Version int        `json:"version"`
	State   *AuthState `json:"state"`
}

// Encode serializes state with a version header.
func Encode(state *AuthState) (string, error) {
	data, err := json.Marshal(envelope{Version: currentVersion, State: state})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth state: %w", err)
	}
	return string(data), nil
}

// Decode parses a value written by Encode.
func Decode(raw string) (*AuthState, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, &oauth.ParseError{Source: "auth state", Err: err}
	}
	if env.Version != currentVersion {
		return nil, &oauth.ParseError{Source: "auth state", Err: fmt.Errorf("unsupported version %d", env.Version)}
	}
	if env.State == nil {
		return &AuthState{}, nil
	}
	return env.State, nil
}
