package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/giantswarm/oidcflow/internal/browser"
	"github.com/giantswarm/oidcflow/internal/flow"
)

// Login-specific flags
var (
	loginNoBrowser bool
	loginTimeout   time.Duration
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the configured OpenID provider",
	Long: `Sign in using the OAuth 2.0 authorization code flow with PKCE.

By default the system browser is opened and the redirect is received on the
configured loopback redirect URI. With --no-browser the authorization URL is
printed and the URL the browser was redirected to is read from stdin.

Examples:
  oidcflow auth login
  oidcflow auth login --no-browser
  oidcflow auth login --timeout 2m`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL and read the redirect URL from stdin")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", browser.DefaultCallbackTimeout, "How long to wait for the browser redirect")
}

// newBrowser returns the browser collaborator for login and a function that
// stops any progress output. It is replaced in tests.
var newBrowser = func(cmd *cobra.Command) (flow.Browser, func()) {
	if loginNoBrowser {
		return &browser.Manual{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}, func() {}
	}

	loopback := &browser.Loopback{Out: cmd.ErrOrStderr(), Timeout: loginTimeout}
	if quiet {
		return loopback, func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " Waiting for sign-in to complete in the browser..."
	loopback.OpenURL = func(url string) error {
		if err := browser.OpenSystemBrowser(url); err != nil {
			return err
		}
		s.Start()
		return nil
	}
	return loopback, s.Stop
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	issuer := application.Settings().Issuer
	b, stop := newBrowser(cmd)

	authPrint(cmd.OutOrStdout(), "Signing in to %s...\n", issuer)
	token, err := application.Client(b).SignIn(cmd.Context())
	stop()
	if err != nil {
		return classifyAuthError(issuer, fmt.Errorf("login failed: %w", err))
	}

	authPrintln(cmd.OutOrStdout(), "Login successful.")
	if !token.ExpiresAt.IsZero() {
		authPrint(cmd.OutOrStdout(), "Expires:   %s\n", formatExpiryWithDirection(token.ExpiresAt))
	}
	return nil
}
