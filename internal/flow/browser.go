package flow

import (
	"context"
	"errors"
)

// ErrUserCancelled is returned by a Browser when the user abandons the
// authorization page.
var ErrUserCancelled = errors.New("user cancelled authorization")

// Browser performs the user-facing leg of the flow. Open presents
// authorizeURL to the user and returns the terminal redirect URL, the first
// navigation whose URL starts with redirectURIPrefix. It returns
// ErrUserCancelled when the user gives up and must return when ctx is done.
type Browser interface {
	Open(ctx context.Context, authorizeURL, redirectURIPrefix string) (string, error)
}

// BrowserFunc adapts a function to the Browser interface.
type BrowserFunc func(ctx context.Context, authorizeURL, redirectURIPrefix string) (string, error)

// Open calls f.
func (f BrowserFunc) Open(ctx context.Context, authorizeURL, redirectURIPrefix string) (string, error) {
	return f(ctx, authorizeURL, redirectURIPrefix)
}
