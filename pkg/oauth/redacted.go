package oauth

import "log/slog"

// Redacted wraps a credential so it cannot leak through fmt, slog or JSON.
//
// Usage:
//
//	secret := oauth.NewRedacted(token.RefreshToken)
//	slog.Info("refreshing", "refresh_token", secret) // refresh_token=[REDACTED]
//	form.Set("refresh_token", secret.Value())
type Redacted struct {
	value string
}

// NewRedacted creates a new Redacted wrapping the given value.
func NewRedacted(value string) Redacted {
	return Redacted{value: value}
}

// Value returns the actual secret. Never log the result of this method.
func (r Redacted) Value() string {
	return r.value
}

// String implements fmt.Stringer.
func (r Redacted) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (r Redacted) GoString() string {
	return "oauth.Redacted{[REDACTED]}"
}

// LogValue implements slog.LogValuer.
func (r Redacted) LogValue() slog.Value {
	if r.value == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("[REDACTED]")
}

// IsEmpty returns true if the secret is empty.
func (r Redacted) IsEmpty() bool {
	return r.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (r Redacted) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}
