package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oidcflow/internal/securestore"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// DefaultSession is the session name used when none is configured.
const DefaultSession = "default"

// ErrWatchUnsupported is returned by Watch when the backend cannot observe
// external changes.
var ErrWatchUnsupported = errors.New("secure store does not support watching")

// Options configures Open.
type Options struct {
	// Session names the persisted record. Defaults to DefaultSession.
	Session string

	// FlowTimeout is the age after which a pending authorization request is
	// considered abandoned and may be replaced. Zero never expires it.
	FlowTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// Store owns the AuthState of one session. Every mutation is persisted
// before it becomes visible; a failed persist leaves the in-memory state
// unchanged and returns *oauth.PersistenceError.
type Store struct {
	mu    sync.Mutex
	state *AuthState

	secure      securestore.SecureStore
	restorer    Restorer[*AuthState]
	flowTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Open restores the session's state from secure. A record that cannot be
// decoded is discarded with a warning and the session starts empty.
func Open(ctx context.Context, secure securestore.SecureStore, opts Options) (*Store, error) {
	if opts.Session == "" {
		opts.Session = DefaultSession
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		secure:      secure,
		restorer:    StateRestorer(opts.Session),
		flowTimeout: opts.FlowTimeout,
		logger:      opts.Logger.With("session", opts.Session),
		now:         opts.Now,
	}

	state, err := s.restore(ctx)
	if err != nil {
		return nil, err
	}
	s.state = state
	return s, nil
}

func (s *Store) restore(ctx context.Context) (*AuthState, error) {
	state, found, err := Restore(ctx, s.secure, s.restorer)
	if err != nil {
		var parseErr *oauth.ParseError
		if errors.As(err, &parseErr) {
			s.logger.Warn("Discarding unreadable auth state", "error", err)
			return &AuthState{}, nil
		}
		return nil, &oauth.PersistenceError{Op: "restore", Err: err}
	}
	if !found {
		return &AuthState{}, nil
	}
	s.logger.Debug("Restored auth state",
		"authenticated", state.IsAuthenticated(),
		"pending_flow", state.HasPendingFlow())
	return state, nil
}

// Get returns a snapshot of the current state.
func (s *Store) Get() *AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// BeginFlow records req as the pending authorization request, together with
// the provider metadata it was built from when provider is not nil. It fails
// with oauth.ErrFlowAlreadyInProgress when another live request is pending; a
// pending request older than the flow timeout is replaced.
func (s *Store) BeginFlow(ctx context.Context, req *oauth.AuthorizationRequest, provider *oauth.Metadata) error {
	if req == nil || req.ID == "" {
		return errors.New("authorization request must have an id")
	}
	_, err := s.mutate(ctx, "begin_flow", func(next *AuthState) error {
		if next.Pending != nil {
			if !s.isStale(next.Pending) {
				return oauth.ErrFlowAlreadyInProgress
			}
			s.logger.Info("Replacing abandoned authorization flow", "flow_id", next.Pending.ID)
		}
		next.Pending = req.Clone()
		if provider != nil {
			next.Provider = provider.Clone()
		}
		return nil
	})
	return err
}

// CompleteFlow clears the pending request requestID and installs provider
// and token. It fails with oauth.ErrNoFlowInProgress when no request is
// pending or the pending request belongs to another flow.
func (s *Store) CompleteFlow(ctx context.Context, requestID string, provider *oauth.Metadata, token *oauth.Token) (*AuthState, error) {
	if token == nil {
		return nil, errors.New("token is nil")
	}
	return s.mutate(ctx, "complete_flow", func(next *AuthState) error {
		if next.Pending == nil || next.Pending.ID != requestID {
			return oauth.ErrNoFlowInProgress
		}
		next.Pending = nil
		next.Tokens = token.Clone()
		if provider != nil {
			next.Provider = provider.Clone()
		}
		return nil
	})
}

// AbortFlow clears the pending request requestID. An empty requestID aborts
// whatever is pending. Aborting when the request is no longer pending is a
// no-op.
func (s *Store) AbortFlow(ctx context.Context, requestID string) error {
	_, err := s.mutate(ctx, "abort_flow", func(next *AuthState) error {
		if next.Pending == nil || (requestID != "" && next.Pending.ID != requestID) {
			return errNoChange
		}
		next.Pending = nil
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// UpdateTokens merges token into the current token set. A refresh token or
// ID token omitted by token is retained from the previous set. It fails with
// oauth.ErrNotAuthenticated when no tokens are stored.
func (s *Store) UpdateTokens(ctx context.Context, token *oauth.Token) (*AuthState, error) {
	return s.updateTokens(ctx, token, nil)
}

// CompareAndUpdateTokens is UpdateTokens that only applies while the stored
// refresh token is still usedRefreshToken. Otherwise the session was signed
// out or replaced meanwhile and oauth.ErrNotAuthenticated is returned.
func (s *Store) CompareAndUpdateTokens(ctx context.Context, usedRefreshToken string, token *oauth.Token) (*AuthState, error) {
	return s.updateTokens(ctx, token, &usedRefreshToken)
}

func (s *Store) updateTokens(ctx context.Context, token *oauth.Token, expectedRefresh *string) (*AuthState, error) {
	if token == nil {
		return nil, errors.New("token is nil")
	}
	return s.mutate(ctx, "update_tokens", func(next *AuthState) error {
		if next.Tokens == nil {
			return oauth.ErrNotAuthenticated
		}
		if expectedRefresh != nil && next.Tokens.RefreshToken != *expectedRefresh {
			return oauth.ErrNotAuthenticated
		}

		merged := token.Clone()
		if merged.RefreshToken == "" {
			merged.RefreshToken = next.Tokens.RefreshToken
		}
		if merged.IDToken == "" {
			merged.IDToken = next.Tokens.IDToken
		}
		if merged.Issuer == "" {
			merged.Issuer = next.Tokens.Issuer
		}
		if merged.Scope == "" {
			merged.Scope = next.Tokens.Scope
		}
		next.Tokens = merged
		return nil
	})
}

// SetProvider replaces the stored provider metadata.
func (s *Store) SetProvider(ctx context.Context, provider *oauth.Metadata) error {
	_, err := s.mutate(ctx, "set_provider", func(next *AuthState) error {
		next.Provider = provider.Clone()
		return nil
	})
	return err
}

// Clear erases all credential material of the session.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.mutate(ctx, "clear", func(next *AuthState) error {
		*next = AuthState{}
		return nil
	})
	return err
}

// CompareAndClear clears the session only while the stored refresh token is
// still refreshToken. It reports whether the state was cleared.
func (s *Store) CompareAndClear(ctx context.Context, refreshToken string) (bool, error) {
	_, err := s.mutate(ctx, "clear", func(next *AuthState) error {
		if next.Tokens == nil || next.Tokens.RefreshToken != refreshToken {
			return errNoChange
		}
		*next = AuthState{}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	return err == nil, err
}

// Reload re-reads the persisted state, picking up changes written by
// another process.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.restore(ctx)
	if err != nil {
		return err
	}
	s.state = state
	return nil
}

// Watch reloads the state whenever the backend reports an external change,
// until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watchable, ok := s.secure.(securestore.Watchable)
	if !ok {
		return ErrWatchUnsupported
	}
	return watchable.Watch(ctx, func() {
		if err := s.Reload(ctx); err != nil {
			s.logger.Warn("Failed to reload auth state after external change", "error", err)
		}
	})
}

// errNoChange aborts a mutation without persisting.
var errNoChange = errors.New("no change")

// mutate applies fn to a copy of the state, persists the copy and only then
// swaps it in.
func (s *Store) mutate(ctx context.Context, op string, fn func(next *AuthState) error) (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()

	if err := s.persist(ctx, next); err != nil {
		s.logger.Error("Failed to persist auth state", "op", op, "error", err)
		return nil, &oauth.PersistenceError{Op: op, Err: err}
	}

	s.state = next
	s.logger.Debug("Auth state updated",
		"op", op,
		"authenticated", next.IsAuthenticated(),
		"pending_flow", next.HasPendingFlow())
	return next.Clone(), nil
}

func (s *Store) persist(ctx context.Context, state *AuthState) error {
	if state.IsEmpty() {
		return s.secure.Delete(ctx, s.restorer.Key)
	}
	encoded, err := Encode(state)
	if err != nil {
		return err
	}
	if err := s.secure.Put(ctx, s.restorer.Key, encoded); err != nil {
		return fmt.Errorf("write %s: %w", s.restorer.Key, err)
	}
	return nil
}

func (s *Store) isStale(req *oauth.AuthorizationRequest) bool {
	return s.flowTimeout > 0 && s.now().Sub(req.CreatedAt) > s.flowTimeout
}
