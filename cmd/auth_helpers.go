package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/giantswarm/oidcflow/internal/oidc"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// identity is the subset of user claims shown by the CLI.
type identity struct {
	Subject  string
	Email    string
	Name     string
	Username string
}

func identityFromClaims(claims *oauth.IDTokenClaims) identity {
	if claims == nil {
		return identity{}
	}
	return identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Username: claims.PreferredUsername,
	}
}

func identityFromUserInfo(info *oidc.UserInfo) identity {
	if info == nil {
		return identity{}
	}
	id := identity{
		Subject: info.Subject,
		Email:   info.Email,
		Name:    info.Name,
	}
	if username, ok := info.Claims["preferred_username"].(string); ok {
		id.Username = username
	}
	return id
}

// merge prefers the non-empty values of other.
func (id identity) merge(other identity) identity {
	if other.Subject != "" {
		id.Subject = other.Subject
	}
	if other.Email != "" {
		id.Email = other.Email
	}
	if other.Name != "" {
		id.Name = other.Name
	}
	if other.Username != "" {
		id.Username = other.Username
	}
	return id
}

// label returns the most human-friendly identifier available.
func (id identity) label() string {
	switch {
	case id.Email != "":
		return id.Email
	case id.Username != "":
		return id.Username
	default:
		return id.Subject
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection renders "in 5 minutes" or, highlighted,
// "expired 5 minutes ago".
func formatExpiryWithDirection(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	// Token is expired
	expiredAgo := -remaining
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(expiredAgo))
}
