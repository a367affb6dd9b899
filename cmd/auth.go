package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oidcflow/internal/app"
	"github.com/giantswarm/oidcflow/pkg/oauth"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with the OpenID provider",
	Long: `Manage the stored OpenID Connect session.

The auth command group provides subcommands to login, logout, check status,
and refresh the tokens of the configured provider.

Examples:
  oidcflow auth login                  # Sign in through the system browser
  oidcflow auth login --no-browser     # Print the URL and paste the redirect
  oidcflow auth status                 # Show authentication status
  oidcflow auth refresh                # Force token refresh
  oidcflow auth whoami                 # Show current identity
  oidcflow auth logout                 # Revoke and clear stored tokens`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and clear stored authentication tokens",
	Long: `Revoke the stored tokens at the provider and clear them locally.

Revocation is best effort: the local session is cleared even when the
provider cannot be reached or does not support revocation.`,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force token refresh",
	Long: `Force a refresh of the access token using the stored refresh token.

If the provider rejects the refresh token the session is cleared and you
need to sign in again.`,
	RunE: runAuthRefresh,
}

// authWhoamiCmd represents the auth whoami command
var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show current authenticated identity",
	Long: `Show the currently authenticated identity.

Identity claims are read from the provider's userinfo endpoint, falling back
to the stored ID token when userinfo is unavailable.`,
	RunE: runAuthWhoami,
}

// newApplication is replaced in tests.
var newApplication = func(cmd *cobra.Command) (*app.Application, error) {
	cfg := app.NewConfig(debug, quiet, configPath)
	cfg.LogOutput = cmd.ErrOrStderr()
	return app.NewApplication(cmd.Context(), cfg)
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(w io.Writer, a ...interface{}) {
	if !quiet {
		fmt.Fprintln(w, a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	c := application.Client(nil)
	issuer := application.Settings().Issuer

	if c.State().IsEmpty() {
		authPrintln(cmd.OutOrStdout(), "No stored session to clear.")
		return nil
	}

	if err := c.SignOut(cmd.Context()); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	authPrint(cmd.OutOrStdout(), "Logged out from %s\n", issuer)
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	c := application.Client(nil)
	issuer := application.Settings().Issuer

	authPrint(cmd.OutOrStdout(), "Refreshing token for %s...\n", issuer)
	token, err := c.Refresh(cmd.Context())
	if err != nil {
		return classifyAuthError(issuer, fmt.Errorf("failed to refresh token: %w", err))
	}

	authPrintln(cmd.OutOrStdout(), "Token refreshed successfully.")
	if !token.ExpiresAt.IsZero() {
		authPrint(cmd.OutOrStdout(), "Expires:   %s\n", formatExpiryWithDirection(token.ExpiresAt))
	}
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	c := application.Client(nil)
	settings := application.Settings()
	out := cmd.OutOrStdout()

	state := c.State()
	if !state.IsAuthenticated() {
		return &AuthRequiredError{Issuer: settings.Issuer, Reason: oauth.ErrNotAuthenticated}
	}

	id := identity{}
	if claims, err := c.Engine().IDTokenClaims(); err == nil {
		id = identityFromClaims(claims)
	}

	info, err := c.UserInfo(ctx)
	switch {
	case err == nil:
		id = id.merge(identityFromUserInfo(info))
	case oauth.IsUnauthorized(err):
		return classifyAuthError(settings.Issuer, err)
	default:
		// The ID token claims are still shown.
		authPrint(cmd.ErrOrStderr(), "Warning: userinfo unavailable: %v\n", err)
	}

	if label := id.label(); label != "" {
		fmt.Fprintf(out, "Identity:  %s\n", label)
	}
	if id.Subject != "" {
		fmt.Fprintf(out, "Subject:   %s\n", id.Subject)
	}
	if id.Name != "" {
		fmt.Fprintf(out, "Name:      %s\n", id.Name)
	}
	fmt.Fprintf(out, "Issuer:    %s\n", settings.Issuer)
	if expiresAt := state.Tokens.ExpiresAt; !expiresAt.IsZero() {
		fmt.Fprintf(out, "Expires:   %s\n", formatExpiryWithDirection(expiresAt))
	}
	return nil
}
