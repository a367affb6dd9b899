package client

import (
	"context"
	"sync"

	"github.com/giantswarm/oidcflow/internal/flow"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

type operationState int

const (
	operationPending operationState = iota
	operationCompleted
	operationCancelled
)

// Operation is a pending asynchronous call.
type Operation struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	state operationState
	done  chan struct{}
}

func newOperation(cancel context.CancelFunc) *Operation {
	return &Operation{cancel: cancel, done: make(chan struct{})}
}

// Cancel cancels the operation's context and suppresses its callback. It
// reports false when the callback already started.
func (o *Operation) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != operationPending {
		return false
	}
	o.state = operationCancelled
	o.cancel()
	close(o.done)
	return true
}

// Done is closed once the callback returned, the operation was cancelled or
// its callback was dropped because the client was closed.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// claim marks the operation completed unless it was cancelled.
func (o *Operation) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != operationPending {
		return false
	}
	o.state = operationCompleted
	return true
}

// AsyncClient is the non-blocking API. Each call returns immediately; the
// callback receives the result on the callback executor exactly once unless
// the operation is cancelled first.
type AsyncClient struct {
	sync      *SyncClient
	work      Executor
	callbacks Executor

	ownedCallbacks *SerialExecutor
}

// AsyncOption configures an AsyncClient.
type AsyncOption func(*AsyncClient)

// WithCallbackExecutor sets where callbacks run. The default is a
// SerialExecutor owned by the client.
func WithCallbackExecutor(e Executor) AsyncOption {
	return func(c *AsyncClient) {
		c.callbacks = e
	}
}

// WithWorkExecutor sets where operations run. The default is a
// GoroutineExecutor.
func WithWorkExecutor(e Executor) AsyncOption {
	return func(c *AsyncClient) {
		c.work = e
	}
}

// NewAsyncClient wraps a blocking client.
func NewAsyncClient(blocking *SyncClient, opts ...AsyncOption) *AsyncClient {
	c := &AsyncClient{sync: blocking, work: GoroutineExecutor{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.callbacks == nil {
		c.ownedCallbacks = NewSerialExecutor()
		c.callbacks = c.ownedCallbacks
	}
	return c
}

// Sync returns the blocking client.
func (c *AsyncClient) Sync() *SyncClient {
	return c.sync
}

// Close stops the default callback executor after pending callbacks ran.
// Operations finishing afterwards skip their callback; their Done channel
// is still closed.
func (c *AsyncClient) Close() {
	if c.ownedCallbacks != nil {
		c.ownedCallbacks.Close()
	}
}

// SignIn runs SyncClient.SignIn asynchronously.
func (c *AsyncClient) SignIn(ctx context.Context, cb func(*oauth.Token, error)) *Operation {
	return submit(ctx, c, c.sync.SignIn, cb)
}

// StartAuthorization runs SyncClient.StartAuthorization asynchronously.
func (c *AsyncClient) StartAuthorization(ctx context.Context, cb func(*flow.Flow, error)) *Operation {
	return submit(ctx, c, c.sync.StartAuthorization, cb)
}

// HandleRedirect runs SyncClient.HandleRedirect asynchronously.
func (c *AsyncClient) HandleRedirect(ctx context.Context, redirectURL string, cb func(*oauth.Token, error)) *Operation {
	return submit(ctx, c, func(ctx context.Context) (*oauth.Token, error) {
		return c.sync.HandleRedirect(ctx, redirectURL)
	}, cb)
}

// Cancel cancels the pending flow. It does not wait for network I/O.
func (c *AsyncClient) Cancel() error {
	return c.sync.Cancel()
}

// Refresh runs SyncClient.Refresh asynchronously.
func (c *AsyncClient) Refresh(ctx context.Context, cb func(*oauth.Token, error)) *Operation {
	return submit(ctx, c, c.sync.Refresh, cb)
}

// SignOut runs SyncClient.SignOut asynchronously.
func (c *AsyncClient) SignOut(ctx context.Context, cb func(error)) *Operation {
	return submit(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.sync.SignOut(ctx)
	}, func(_ struct{}, err error) {
		if cb != nil {
			cb(err)
		}
	})
}

// UserInfo runs SyncClient.UserInfo asynchronously.
func (c *AsyncClient) UserInfo(ctx context.Context, cb func(*oidc.UserInfo, error)) *Operation {
	return submit(ctx, c, c.sync.UserInfo, cb)
}

// Token runs SyncClient.Token asynchronously.
func (c *AsyncClient) Token(ctx context.Context, cb func(*oauth.Token, error)) *Operation {
	return submit(ctx, c, c.sync.Token, cb)
}

func submit[T any](ctx context.Context, c *AsyncClient, op func(context.Context) (T, error), cb func(T, error)) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	o := newOperation(cancel)

	c.work.Execute(func() {
		value, err := op(ctx)
		deliver := func() {
			if !o.claim() {
				return
			}
			defer close(o.done)
			defer cancel()
			if cb != nil {
				cb(value, err)
			}
		}

		tryExec, ok := c.callbacks.(interface{ TryExecute(func()) bool })
		if !ok {
			c.callbacks.Execute(deliver)
			return
		}
		if !tryExec.TryExecute(deliver) {
			o.Cancel()
		}
	})
	return o
}
