package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/pkg/logging"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// Defaults applied by NewEngine.
const (
	DefaultFlowTimeout      = 10 * time.Minute
	DefaultRefreshThreshold = oauth.TokenRefreshThreshold
)

// Config holds the immutable settings of an Engine.
type Config struct {
	// Issuer is the provider's issuer URL.
	Issuer string

	// RedirectURI is the registered redirect URI.
	RedirectURI string

	// Scopes are requested at sign-in. Defaults to oauth.DefaultScopes.
	Scopes []string

	// ExtraParams are added to the authorization URL.
	ExtraParams url.Values

	// FlowTimeout bounds how long a pending authorization request blocks a
	// new sign-in.
	FlowTimeout time.Duration

	// RefreshThreshold is how long before expiry Token refreshes.
	RefreshThreshold time.Duration
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Resolver *oidc.Resolver
	Client   *oidc.Client
	Verifier *oidc.Verifier
	Store    *authstate.Store
}

// Engine runs authorization flows and manages the tokens of one session.
type Engine struct {
	cfg      Config
	resolver *oidc.Resolver
	client   *oidc.Client
	verifier *oidc.Verifier
	store    *authstate.Store
	now      func() time.Time

	mu      sync.Mutex
	current *Flow

	refreshGroup singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for flow timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect URI is required")
	}
	if deps.Resolver == nil || deps.Client == nil || deps.Verifier == nil || deps.Store == nil {
		return nil, errors.New("resolver, client, verifier and store are required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = slices.Clone(oauth.DefaultScopes)
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}

	e := &Engine{
		cfg:      cfg,
		resolver: deps.Resolver,
		client:   deps.Client,
		verifier: deps.Verifier,
		store:    deps.Store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Issuer returns the configured issuer.
func (e *Engine) Issuer() string {
	return e.cfg.Issuer
}

// State returns a snapshot of the session's stored state.
func (e *Engine) State() *authstate.AuthState {
	return e.store.Get()
}

// Current returns the most recent flow of this engine, or nil.
func (e *Engine) Current() *Flow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Start begins a new flow and returns it in AUTHORIZING. It fails with
// oauth.ErrFlowAlreadyInProgress while another flow of the session is
// pending and younger than the flow timeout.
func (e *Engine) Start(ctx context.Context) (*Flow, error) {
	provider, err := e.resolver.Resolve(ctx, e.cfg.Issuer)
	if err != nil {
		return nil, err
	}

	req, err := oauth.NewAuthorizationRequest(e.cfg.Issuer, e.cfg.RedirectURI, e.cfg.Scopes, provider.CodeChallengeMethodsSupported)
	if err != nil {
		return nil, err
	}
	req.CreatedAt = e.now()

	authorizeURL, err := e.client.BuildAuthorizationURL(provider, req, e.cfg.ExtraParams)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev := e.current; prev != nil && !prev.Status().IsTerminal() && !e.isStale(prev.request) {
		return nil, oauth.ErrFlowAlreadyInProgress
	}
	if err := e.store.BeginFlow(ctx, req, provider); err != nil {
		return nil, err
	}
	if prev := e.current; prev != nil && prev.finish(StatusCancelled, nil, oauth.ErrFlowCancelled) {
		logging.Info("Flow", "Abandoned authorization flow %s replaced", prev.ID())
	}

	f := newFlow(e, req, provider, authorizeURL)
	e.current = f

	logging.Info("Flow", "Authorization flow %s started for %s (pkce=%s)", f.ID(), e.cfg.Issuer, req.PKCE.CodeChallengeMethod)
	logging.Audit(logging.AuditEvent{
		Action:  "flow_start",
		Outcome: "success",
		Issuer:  e.cfg.Issuer,
		FlowID:  f.ID(),
	})
	return f, nil
}

// HandleRedirect completes the pending flow with the terminal redirect URL.
// After a restart the flow is rebuilt from the persisted pending request.
func (e *Engine) HandleRedirect(ctx context.Context, redirectURL string) (*oauth.Token, error) {
	f, err := e.pendingFlow(ctx)
	if err != nil {
		return nil, err
	}

	resp, parseErr := oauth.ParseAuthorizationResponse(redirectURL, f.request.RedirectURI)
	var state string
	if resp != nil {
		state = resp.State
	}
	if failed, err := f.accept(state, parseErr); err != nil {
		if failed {
			return nil, e.failed(ctx, f, err)
		}
		return nil, err
	}

	if resp.IsError() {
		return nil, e.fail(ctx, f, &oauth.AuthorizationError{
			Code:        resp.Error,
			Description: resp.ErrorDescription,
			URI:         resp.ErrorURI,
		})
	}
	if resp.Code == "" {
		return nil, e.fail(ctx, f, &oauth.ParseError{Source: "redirect", Err: errors.New("missing code parameter")})
	}

	logging.Debug("Flow", "Exchanging authorization code for flow %s", f.ID())

	token, err := e.client.ExchangeCode(ctx, f.provider, f.request, resp.Code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, withCleanup(fmt.Errorf("%w: %w", oauth.ErrFlowCancelled, ctx.Err()), f.Cancel())
		}
		return nil, e.fail(ctx, f, err)
	}

	subject, err := e.verifyExchange(ctx, f, token)
	if err != nil {
		return nil, e.fail(ctx, f, err)
	}

	token, err = f.commit(func() (*oauth.Token, error) {
		state, err := e.store.CompleteFlow(ctx, f.ID(), f.provider, token)
		if err != nil {
			return nil, err
		}
		return state.Tokens, nil
	})
	if err != nil {
		if errors.Is(err, oauth.ErrFlowCancelled) {
			logging.Info("Flow", "Discarding token response of cancelled flow %s", f.ID())
			return nil, err
		}
		abortErr := e.abortPending(context.WithoutCancel(ctx), f, "persist failed")
		e.audit("sign_in", f, "", err)
		return nil, withCleanup(err, abortErr)
	}

	logging.Info("Flow", "Authorization flow %s complete", f.ID())
	e.audit("sign_in", f, subject, nil)
	return token, nil
}

// verifyExchange validates the ID token of a code exchange. An OpenID
// request must return one.
func (e *Engine) verifyExchange(ctx context.Context, f *Flow, token *oauth.Token) (string, error) {
	if token.IDToken == "" {
		if f.request.RequestsOpenID() {
			return "", &oauth.IDTokenValidationError{Reason: "token response has no id_token"}
		}
		return "", nil
	}
	claims, err := e.verifier.Verify(ctx, f.provider, token.IDToken, f.request.Nonce, "")
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// pendingFlow returns the flow a redirect belongs to.
func (e *Engine) pendingFlow(ctx context.Context) (*Flow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.store.Get()
	pending := state.Pending

	f := e.current
	if f != nil && !f.Status().IsTerminal() {
		if pending == nil || pending.ID != f.ID() {
			// The pending request was cleared or replaced elsewhere.
			f.finish(StatusCancelled, nil, oauth.ErrFlowCancelled)
			return nil, oauth.ErrNoFlowInProgress
		}
		return f, nil
	}

	if pending == nil {
		return nil, oauth.ErrNoFlowInProgress
	}
	if f != nil && pending.ID == f.ID() {
		// The flow ended in this process but its pending request could not
		// be cleared at the time.
		if err := e.store.AbortFlow(ctx, pending.ID); err != nil {
			return nil, err
		}
		logging.Debug("Flow", "Cleared pending request of finished flow %s", pending.ID)
		return nil, oauth.ErrNoFlowInProgress
	}
	if e.isStale(pending) {
		logging.Info("Flow", "Pending authorization flow %s expired", pending.ID)
		if err := e.store.AbortFlow(ctx, pending.ID); err != nil {
			return nil, err
		}
		return nil, oauth.ErrNoFlowInProgress
	}

	provider := state.Provider
	if provider == nil || provider.Issuer != pending.Issuer {
		resolved, err := e.resolver.Resolve(ctx, pending.Issuer)
		if err != nil {
			return nil, err
		}
		provider = resolved
	}
	authorizeURL, err := e.client.BuildAuthorizationURL(provider, pending, e.cfg.ExtraParams)
	if err != nil {
		return nil, err
	}

	logging.Debug("Flow", "Resuming persisted authorization flow %s", pending.ID)
	f = newFlow(e, pending, provider, authorizeURL)
	e.current = f
	return f, nil
}

// Cancel cancels the current flow. Without a live flow in this process a
// persisted pending request is aborted. An error means the pending request
// could not be cleared from the store.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	f := e.current
	e.mu.Unlock()

	if f != nil && !f.Status().IsTerminal() {
		return f.Cancel()
	}
	if state := e.store.Get(); state.Pending != nil {
		if err := e.store.AbortFlow(context.Background(), state.Pending.ID); err != nil {
			logging.Error("Flow", err, "Failed to abort pending authorization flow %s", state.Pending.ID)
			return err
		}
	}
	return nil
}

// SignIn runs a complete flow through browser.
func (e *Engine) SignIn(ctx context.Context, browser Browser) (*oauth.Token, error) {
	f, err := e.Start(ctx)
	if err != nil {
		return nil, err
	}

	browserCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.Done():
			cancel()
		case <-browserCtx.Done():
		}
	}()

	logging.Debug("Browser", "Opening authorization URL for flow %s", f.ID())
	redirectURL, err := browser.Open(browserCtx, f.AuthorizeURL(), f.RedirectURI())
	if err != nil {
		switch {
		case errors.Is(err, ErrUserCancelled), ctx.Err() != nil:
			return nil, withCleanup(fmt.Errorf("%w: %w", oauth.ErrFlowCancelled, err), f.Cancel())
		case f.Status() == StatusCancelled:
			return nil, oauth.ErrFlowCancelled
		default:
			return nil, e.fail(ctx, f, fmt.Errorf("browser: %w", err))
		}
	}

	return e.HandleRedirect(ctx, redirectURL)
}

// fail marks f failed, clears its pending request and returns err.
func (e *Engine) fail(ctx context.Context, f *Flow, err error) error {
	if !f.finish(StatusFailed, nil, err) {
		if f.Status() == StatusCancelled {
			return oauth.ErrFlowCancelled
		}
		return err
	}
	return e.failed(ctx, f, err)
}

// failed clears the pending request of a flow that has just failed with err.
func (e *Engine) failed(ctx context.Context, f *Flow, err error) error {
	logging.Warn("Flow", "Authorization flow %s failed: %v", f.ID(), err)
	abortErr := e.abortPending(context.WithoutCancel(ctx), f, "failed")
	e.audit("sign_in", f, "", err)
	return withCleanup(err, abortErr)
}

// abortPending removes f's pending request from the store.
func (e *Engine) abortPending(ctx context.Context, f *Flow, reason string) error {
	if err := e.store.AbortFlow(ctx, f.ID()); err != nil {
		logging.Error("Flow", err, "Failed to clear pending authorization flow %s (%s)", f.ID(), reason)
		return err
	}
	logging.Debug("Flow", "Cleared pending authorization flow %s (%s)", f.ID(), reason)
	return nil
}

func (e *Engine) isStale(req *oauth.AuthorizationRequest) bool {
	return e.now().Sub(req.CreatedAt) > e.cfg.FlowTimeout
}

func (e *Engine) audit(action string, f *Flow, subject string, err error) {
	event := logging.AuditEvent{
		Action:  action,
		Outcome: "success",
		Issuer:  e.cfg.Issuer,
		Subject: subject,
	}
	if f != nil {
		event.FlowID = f.ID()
	}
	if err != nil {
		event.Outcome = "failure"
		event.Error = auditReason(err)
	}
	logging.Audit(event)
}

// auditReason returns a credential-free description of err.
func auditReason(err error) string {
	var (
		authErr     *oauth.AuthorizationError
		idTokenErr  *oauth.IDTokenValidationError
		netErr      *oauth.NetworkError
		persistErr  *oauth.PersistenceError
		mismatchErr *oauth.StateMismatchError
	)
	switch {
	case oauth.IsInvalidGrant(err):
		return "invalid_grant"
	case errors.As(err, &authErr):
		return authErr.Code
	case errors.As(err, &mismatchErr):
		return "state_mismatch"
	case errors.As(err, &idTokenErr):
		return "id_token: " + idTokenErr.Reason
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &persistErr):
		return "persistence_error"
	case errors.Is(err, oauth.ErrFlowCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// withCleanup adds a failure to clean up after err to err.
func withCleanup(err, cleanupErr error) error {
	if cleanupErr == nil {
		return err
	}
	return errors.Join(err, cleanupErr)
}
