package oidc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/giantswarm/oidcflow/pkg/oauth"
)

const (
	// DefaultHTTPTimeout bounds every provider request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps provider response bodies.
	DefaultMaxResponseBytes = 1 << 20
)

// Request is a single provider request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a provider response with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes provider requests. Implementations perform exactly one
// attempt and report every transport-level failure as *oauth.NetworkError.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute calls f(ctx, req).
func (f TransportFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithMaxResponseBytes sets the response body limit.
func WithMaxResponseBytes(n int64) TransportOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.maxBytes = n
		}
	}
}

// NewHTTPTransport creates a transport with a 30 second timeout and a 1 MiB
// response limit.
func NewHTTPTransport(opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client:   &http.Client{},
		timeout:  DefaultHTTPTimeout,
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute performs the request once.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &oauth.NetworkError{Op: req.Method, URL: req.URL, Err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &oauth.NetworkError{Op: req.Method, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, &oauth.NetworkError{Op: req.Method, URL: req.URL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(data)) > t.maxBytes {
		return nil, &oauth.NetworkError{Op: req.Method, URL: req.URL, Err: fmt.Errorf("response body exceeds %d bytes", t.maxBytes)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
