package cmd

import (
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/oidcflow/internal/authstate"
	"github.com/giantswarm/oidcflow/internal/config"
	"github.com/giantswarm/oidcflow/pkg/oauth"
	pkgstrings "github.com/giantswarm/oidcflow/pkg/strings"
)

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show the stored session for the configured provider: whether tokens are
present, when they expire, whether a refresh token is available and whether
an authorization is pending.

The status is read from the secure store only; no request is sent to the
provider.`,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	renderStatus(cmd, application.Settings(), application.Engine().State(), time.Now())
	return nil
}

func renderStatus(cmd *cobra.Command, settings config.Config, state *authstate.AuthState, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.Bold}},
	})

	t.AppendRow(table.Row{"Issuer", settings.Issuer})
	t.AppendRow(table.Row{"Client", settings.ClientID})
	t.AppendRow(table.Row{"Session", settings.Storage.Session + " (" + settings.Storage.Backend + ")"})
	t.AppendRow(table.Row{"Status", formatSessionStatus(state, now)})

	if state.Tokens != nil {
		tokens := state.Tokens
		if !tokens.ExpiresAt.IsZero() {
			t.AppendRow(table.Row{"Expires", formatExpiryWithDirection(tokens.ExpiresAt)})
		}
		if tokens.RefreshToken != "" {
			t.AppendRow(table.Row{"Refresh", text.FgGreen.Sprint("Available")})
		} else {
			t.AppendRow(table.Row{"Refresh", text.FgYellow.Sprint("Not available")})
		}
		if scopes := tokens.Scopes(); len(scopes) > 0 {
			t.AppendRow(table.Row{"Scopes", pkgstrings.Truncate(strings.Join(scopes, " "), pkgstrings.DefaultCellMaxLen)})
		}
		if tokens.IDToken != "" {
			// Validated when stored.
			if claims, err := oauth.ParseIDTokenClaimsUnverified(tokens.IDToken); err == nil {
				t.AppendRow(table.Row{"Identity", pkgstrings.Truncate(identityFromClaims(claims).label(), pkgstrings.DefaultCellMaxLen)})
			}
		}
	}

	if state.Pending != nil {
		age := now.Sub(state.Pending.CreatedAt)
		t.AppendRow(table.Row{"Pending", "authorization started " + formatDuration(age) + " ago"})
	}

	t.Render()
}

// formatSessionStatus returns a colored, human-readable session status.
func formatSessionStatus(state *authstate.AuthState, now time.Time) string {
	switch {
	case state.IsAuthenticated() && !state.Tokens.ExpiresAt.IsZero() && !now.Before(state.Tokens.ExpiresAt):
		if state.Tokens.RefreshToken != "" {
			return text.FgYellow.Sprint("Expired (refreshable)")
		}
		return text.FgRed.Sprint("Expired")
	case state.IsAuthenticated():
		return text.FgGreen.Sprint("Authenticated")
	case state.HasPendingFlow():
		return text.FgYellow.Sprint("Sign-in pending")
	default:
		return text.FgHiBlack.Sprint("Not authenticated")
	}
}
