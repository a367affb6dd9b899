package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/giantswarm/oidcflow/pkg/logging"
)

// DefaultCallbackTimeout is how long Loopback waits for the redirect.
const DefaultCallbackTimeout = 10 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// ErrCallbackTimeout is returned when no redirect arrives in time.
var ErrCallbackTimeout = errors.New("timed out waiting for the authorization redirect")

// Loopback receives the authorization redirect on the loopback interface.
// The redirect URI must be an http URI on 127.0.0.1, ::1 or localhost with
// an explicit port.
type Loopback struct {
	// OpenURL presents the authorization URL. Defaults to OpenSystemBrowser.
	OpenURL func(url string) error

	// Out receives instructions when the browser cannot be opened.
	// Defaults to os.Stderr.
	Out io.Writer

	// Timeout bounds the wait for the redirect. Defaults to DefaultCallbackTimeout.
	Timeout time.Duration
}

// Open implements flow.Browser.
func (l *Loopback) Open(ctx context.Context, authorizeURL, redirectURIPrefix string) (string, error) {
	redirect, err := parseLoopbackRedirect(redirectURIPrefix)
	if err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", redirect.Host, err)
	}

	receiver := newCallbackReceiver(redirect)
	mux := http.NewServeMux()
	mux.Handle(redirect.Path, receiver)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Debug("Browser", "Callback server listening on %s", listener.Addr())

	if err := l.openURL(authorizeURL); err != nil {
		logging.Warn("Browser", "Failed to open browser: %v", err)
		fmt.Fprintf(l.out(), "Could not open a browser automatically. Open this URL to continue:\n\n  %s\n\n", authorizeURL)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case redirectURL := <-receiver.result:
		return redirectURL, nil
	case err := <-serveErr:
		return "", fmt.Errorf("callback server failed: %w", err)
	case <-timer.C:
		return "", ErrCallbackTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Loopback) openURL(authorizeURL string) error {
	if l.OpenURL != nil {
		return l.OpenURL(authorizeURL)
	}
	return OpenSystemBrowser(authorizeURL)
}

func (l *Loopback) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stderr
}

func parseLoopbackRedirect(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("loopback redirect URI must use http, got %q", u.Scheme)
	}
	switch u.Hostname() {
	case "127.0.0.1", "::1", "localhost":
	default:
		return nil, fmt.Errorf("redirect URI host %q is not a loopback address", u.Hostname())
	}
	if u.Port() == "" {
		return nil, errors.New("loopback redirect URI must include a port")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// callbackReceiver handles the single redirect request.
type callbackReceiver struct {
	redirect *url.URL
	once     sync.Once
	result   chan string
}

func newCallbackReceiver(redirect *url.URL) *callbackReceiver {
	return &callbackReceiver{
		redirect: redirect,
		result:   make(chan string, 1),
	}
}

// ServeHTTP implements http.Handler.
func (c *callbackReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("code") == "" && query.Get("error") == "" {
		http.NotFound(w, r)
		return
	}

	var handled bool
	c.once.Do(func() {
		handled = true
		c.render(w, query)

		full := *c.redirect
		full.RawQuery = r.URL.RawQuery
		c.result <- full.String()
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (c *callbackReceiver) render(w http.ResponseWriter, query url.Values) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	tmpl, data := successTemplate, map[string]string{}
	if errCode := query.Get("error"); errCode != "" {
		tmpl = errorTemplate
		data = map[string]string{
			"Error":       errCode,
			"Description": query.Get("error_description"),
		}
	}
	if err := tmpl.Execute(w, data); err != nil {
		logging.Error("Browser", err, "Failed to render callback page")
	}
}
