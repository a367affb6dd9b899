package browser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/giantswarm/oidcflow/internal/flow"
)

// Manual asks the user to open the authorization URL and paste the URL the
// browser was redirected to. An empty line or end of input cancels.
type Manual struct {
	// In defaults to os.Stdin.
	In io.Reader

	// Out defaults to os.Stderr.
	Out io.Writer
}

// Open implements flow.Browser.
func (m *Manual) Open(ctx context.Context, authorizeURL, redirectURIPrefix string) (string, error) {
	in, out := m.In, m.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "Open this URL in a browser to sign in:\n\n  %s\n\n", authorizeURL)
	fmt.Fprintf(out, "After signing in, paste the full URL you were redirected to (it starts with %s):\n", redirectURIPrefix)

	lines := make(chan string, 1)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), 64*1024)
		if scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
			return
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		lines <- ""
	}()

	select {
	case line := <-lines:
		if line == "" {
			return "", flow.ErrUserCancelled
		}
		if !strings.HasPrefix(line, redirectURIPrefix) {
			return "", fmt.Errorf("pasted URL does not start with %s", redirectURIPrefix)
		}
		return line, nil
	case err := <-readErr:
		return "", fmt.Errorf("failed to read redirect URL: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
