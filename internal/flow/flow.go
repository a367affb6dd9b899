package flow

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// Flow is one login attempt. Its methods are safe for concurrent use.
type Flow struct {
	engine       *Engine
	request      *oauth.AuthorizationRequest
	provider     *oauth.Metadata
	authorizeURL string

	mu     sync.Mutex
	status Status
	err    error
	token  *oauth.Token
	done   chan struct{}
}

func newFlow(engine *Engine, req *oauth.AuthorizationRequest, provider *oauth.Metadata, authorizeURL string) *Flow {
	return &Flow{
		engine:       engine,
		request:      req,
		provider:     provider,
		authorizeURL: authorizeURL,
		status:       StatusAuthorizing,
		done:         make(chan struct{}),
	}
}

// ID identifies the flow. It equals the ID of its authorization request.
func (f *Flow) ID() string {
	return f.request.ID
}

// AuthorizeURL is the URL the user must visit.
func (f *Flow) AuthorizeURL() string {
	return f.authorizeURL
}

// RedirectURI is the prefix of the terminal redirect.
func (f *Flow) RedirectURI() string {
	return f.request.RedirectURI
}

// Status returns the current status.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Err returns the error of a failed or cancelled flow.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed when the flow reaches a terminal status.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flow is terminal or ctx is done. It returns the
// persisted token of a completed flow.
func (f *Flow) Wait(ctx context.Context) (*oauth.Token, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == StatusComplete {
		return f.token.Clone(), nil
	}
	return nil, f.err
}

// Cancel stops the flow. A redirect arriving afterwards is rejected and an
// exchange already in flight has its result discarded. Cancelling a
// terminal flow is a no-op. The returned error reports a failure to clear
// the persisted pending request; the flow is cancelled regardless.
func (f *Flow) Cancel() error {
	if !f.finish(StatusCancelled, nil, oauth.ErrFlowCancelled) {
		return nil
	}
	return f.engine.abortPending(context.Background(), f, "cancelled")
}

// accept moves the flow from AUTHORIZING to EXCHANGING for a redirect
// carrying state. A redirect that cannot be parsed or carries the wrong
// state fails the flow, and failed reports that it did. Outside AUTHORIZING
// the flow is left untouched.
func (f *Flow) accept(state string, parseErr error) (failed bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.status {
	case StatusAuthorizing:
	case StatusCancelled:
		return false, oauth.ErrFlowCancelled
	default:
		return false, oauth.ErrNoFlowInProgress
	}

	if parseErr != nil {
		f.finishLocked(StatusFailed, nil, parseErr)
		return true, parseErr
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(f.request.State)) != 1 {
		err := &oauth.StateMismatchError{Expected: f.request.State, Received: state}
		f.finishLocked(StatusFailed, nil, err)
		return true, err
	}

	f.status = StatusExchanging
	return false, nil
}

// finish moves a non-terminal flow to status. It reports whether the
// transition happened.
func (f *Flow) finish(status Status, token *oauth.Token, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishLocked(status, token, err)
}

func (f *Flow) finishLocked(status Status, token *oauth.Token, err error) bool {
	if f.status.IsTerminal() {
		return false
	}
	f.status = status
	f.token = token
	f.err = err
	close(f.done)
	return true
}

// commit runs persist and completes the flow unless it was cancelled first.
// Holding the flow lock across persist orders commit against Cancel.
func (f *Flow) commit(persist func() (*oauth.Token, error)) (*oauth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != StatusExchanging {
		if f.status == StatusCancelled {
			return nil, oauth.ErrFlowCancelled
		}
		return nil, oauth.ErrNoFlowInProgress
	}

	token, err := persist()
	if err != nil {
		f.finishLocked(StatusFailed, nil, err)
		return nil, err
	}
	f.finishLocked(StatusComplete, token, nil)
	return token.Clone(), nil
}
