package browser

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidcflow/internal/flow"
)

const manualRedirectURI = "http://127.0.0.1:8085/callback"

func TestManual_ReadsRedirectURL(t *testing.T) {
	var out bytes.Buffer
	m := &Manual{
		In:  strings.NewReader("  " + manualRedirectURI + "?code=abc&state=xyz\n"),
		Out: &out,
	}

	got, err := m.Open(context.Background(), "https://idp.example.com/authorize", manualRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, manualRedirectURI+"?code=abc&state=xyz", got)
	assert.Contains(t, out.String(), "https://idp.example.com/authorize")
}

func TestManual_EmptyInputCancels(t *testing.T) {
	for _, input := range []string{"\n", ""} {
		m := &Manual{In: strings.NewReader(input), Out: io.Discard}
		_, err := m.Open(context.Background(), "https://idp.example.com/authorize", manualRedirectURI)
		assert.ErrorIs(t, err, flow.ErrUserCancelled)
	}
}

func TestManual_RejectsForeignURL(t *testing.T) {
	m := &Manual{In: strings.NewReader("https://evil.example.com/?code=abc\n"), Out: io.Discard}
	_, err := m.Open(context.Background(), "https://idp.example.com/authorize", manualRedirectURI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not start with")
}

func TestManual_ContextCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Manual{In: reader, Out: io.Discard}
	_, err := m.Open(ctx, "https://idp.example.com/authorize", manualRedirectURI)
	assert.ErrorIs(t, err, context.Canceled)
}
