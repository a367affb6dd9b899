package client

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/flow"
	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/internal/oidc/oidctest"
	"github.com/giantswarm/oidcflow/internal/securestore"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const testRedirectURI = "http://127.0.0.1:8085/callback"

func newTestEngine(t *testing.T, provider *oidctest.Provider) *flow.Engine {
	t.Helper()

	transport := oidc.NewHTTPTransport()
	store, err := authstate.Open(context.Background(), securestore.NewMemory(), authstate.Options{})
	require.NoError(t, err)

	engine, err := flow.NewEngine(flow.Config{
		Issuer:      provider.Issuer,
		RedirectURI: testRedirectURI,
	}, flow.Deps{
		Resolver: oidc.NewResolver(transport),
		Client:   oidc.NewClient(transport, provider.ClientID),
		Verifier: oidc.NewVerifier(oidc.NewKeyCache(transport), provider.ClientID, 0),
		Store:    store,
	})
	require.NoError(t, err)
	return engine
}

func providerBrowser(t *testing.T, p *oidctest.Provider) flow.Browser {
	return flow.BrowserFunc(func(_ context.Context, authorizeURL, _ string) (string, error) {
		return p.Authorize(t, authorizeURL), nil
	})
}

func newSignedInClient(t *testing.T) (*SyncClient, *oidctest.Provider) {
	t.Helper()
	provider := oidctest.NewProvider(t)
	c := NewSyncClient(newTestEngine(t, provider), providerBrowser(t, provider))
	_, err := c.SignIn(context.Background())
	require.NoError(t, err)
	return c, provider
}

func TestSyncClient_SignInAndOut(t *testing.T) {
	c, provider := newSignedInClient(t)
	require.True(t, c.IsAuthenticated())

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.State().Tokens.AccessToken, token.AccessToken)

	info, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.Subject, info.Subject)

	refreshed, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, token.AccessToken, refreshed.AccessToken)

	require.NoError(t, c.SignOut(context.Background()))
	assert.False(t, c.IsAuthenticated())
}

func TestSyncClient_HostDrivenFlow(t *testing.T) {
	provider := oidctest.NewProvider(t)
	c := NewSyncClient(newTestEngine(t, provider), nil)

	_, err := c.SignIn(context.Background())
	assert.ErrorIs(t, err, ErrNoBrowser)

	f, err := c.StartAuthorization(context.Background())
	require.NoError(t, err)
	redirect := provider.Authorize(t, f.AuthorizeURL())

	token, err := c.HandleRedirect(context.Background(), redirect)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token.AccessToken, "access-"))
	assert.True(t, c.IsAuthenticated())
}

func TestSyncClient_Cancel(t *testing.T) {
	provider := oidctest.NewProvider(t)
	c := NewSyncClient(newTestEngine(t, provider), nil)

	f, err := c.StartAuthorization(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Cancel())
	assert.Equal(t, flow.StatusCancelled, f.Status())
}

// markingExecutor runs callbacks inline and records that they went through it.
type markingExecutor struct {
	calls atomic.Int32
}

func (m *markingExecutor) Execute(fn func()) {
	m.calls.Add(1)
	fn()
}

func TestAsyncClient_CallbackRunsOnExecutor(t *testing.T) {
	c, _ := newSignedInClient(t)
	callbacks := &markingExecutor{}
	async := NewAsyncClient(c, WithCallbackExecutor(callbacks))
	defer async.Close()

	results := make(chan *oauth.Token, 2)
	op := async.Refresh(context.Background(), func(token *oauth.Token, err error) {
		assert.NoError(t, err)
		results <- token
	})

	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not complete")
	}
	assert.Len(t, results, 1)
	assert.Equal(t, int32(1), callbacks.calls.Load())
	assert.False(t, op.Cancel(), "cancelling a completed operation has no effect")
}

func TestAsyncClient_DefaultSerialCallbacks(t *testing.T) {
	c, _ := newSignedInClient(t)
	async := NewAsyncClient(c)

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		async.Token(context.Background(), func(_ *oauth.Token, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	async.Close()
	assert.False(t, overlap.Load())
}

func TestAsyncClient_CancelSuppressesCallback(t *testing.T) {
	c, _ := newSignedInClient(t)

	// Hold the work until the operation has been cancelled.
	var pending func()
	work := ExecutorFunc(func(fn func()) { pending = fn })
	async := NewAsyncClient(c, WithWorkExecutor(work), WithCallbackExecutor(ExecutorFunc(func(fn func()) { fn() })))
	defer async.Close()

	var called atomic.Bool
	op := async.Refresh(context.Background(), func(*oauth.Token, error) { called.Store(true) })

	assert.True(t, op.Cancel())
	<-op.Done()

	pending()
	assert.False(t, called.Load())
}

func TestAsyncClient_CancelStopsSignIn(t *testing.T) {
	provider := oidctest.NewProvider(t)
	opened := make(chan struct{})
	browser := flow.BrowserFunc(func(ctx context.Context, _, _ string) (string, error) {
		close(opened)
		<-ctx.Done()
		return "", ctx.Err()
	})
	engine := newTestEngine(t, provider)
	async := NewAsyncClient(NewSyncClient(engine, browser))
	defer async.Close()

	var called atomic.Bool
	op := async.SignIn(context.Background(), func(*oauth.Token, error) { called.Store(true) })

	<-opened
	require.True(t, op.Cancel())

	require.Eventually(t, func() bool {
		f := engine.Current()
		return f != nil && f.Status() == flow.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, called.Load())
	assert.Nil(t, engine.State().Pending)
}

func TestAsyncClient_OperationDoneAfterClose(t *testing.T) {
	c, _ := newSignedInClient(t)

	release := make(chan struct{})
	work := ExecutorFunc(func(fn func()) {
		go func() {
			<-release
			fn()
		}()
	})
	async := NewAsyncClient(c, WithWorkExecutor(work))

	var called atomic.Bool
	op := async.Token(context.Background(), func(*oauth.Token, error) { called.Store(true) })

	async.Close()
	close(release)

	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation finishing after Close never completed")
	}
	assert.False(t, called.Load())
	assert.False(t, op.Cancel(), "the operation is already over")
}

func TestAsyncClient_SignOutAndHandleRedirect(t *testing.T) {
	provider := oidctest.NewProvider(t)
	engine := newTestEngine(t, provider)
	async := NewAsyncClient(NewSyncClient(engine, nil))
	defer async.Close()

	flows := make(chan *flow.Flow, 1)
	async.StartAuthorization(context.Background(), func(f *flow.Flow, err error) {
		assert.NoError(t, err)
		flows <- f
	})
	f := <-flows
	require.NotNil(t, f)

	tokens := make(chan error, 1)
	async.HandleRedirect(context.Background(), provider.Authorize(t, f.AuthorizeURL()), func(_ *oauth.Token, err error) {
		tokens <- err
	})
	require.NoError(t, <-tokens)

	infos := make(chan error, 1)
	async.UserInfo(context.Background(), func(_ *oidc.UserInfo, err error) { infos <- err })
	require.NoError(t, <-infos)

	signedOut := make(chan error, 1)
	async.SignOut(context.Background(), func(err error) { signedOut <- err })
	require.NoError(t, <-signedOut)
	assert.False(t, async.Sync().IsAuthenticated())
}
