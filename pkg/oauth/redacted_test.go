package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedacted(t *testing.T) {
	secret := NewRedacted("super-secret-token")

	assert.Equal(t, "super-secret-token", secret.Value())
	assert.False(t, secret.IsEmpty())
	assert.True(t, NewRedacted("").IsEmpty())

	for _, format := range []string{"%s", "%v", "%+v", "%#v"} {
		t.Run(format, func(t *testing.T) {
			out := fmt.Sprintf(format, secret)
			assert.NotContains(t, out, "super-secret-token")
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestRedacted_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Token Redacted `json:"token"`
	}{Token: NewRedacted("super-secret-token")})
	require.NoError(t, err)
	assert.Equal(t, `{"token":"[REDACTED]"}`, string(data))
}

func TestRedacted_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("refreshing", "refresh_token", NewRedacted("super-secret-token"), "empty", NewRedacted(""))

	out := buf.String()
	assert.False(t, strings.Contains(out, "super-secret-token"))
	assert.Contains(t, out, "refresh_token=[REDACTED]")
}
