// Package logging provides subsystem-tagged structured logging for oidcflow.
//
// The package wraps a process-wide slog.Logger. Call sites pass a subsystem
// name so output can be filtered by component:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Flow", "Authorization flow %s started", flowID)
//	logging.Debug("Discovery", "Fetched metadata from %s", url)
//	logging.Error("AuthState", err, "Failed to persist tokens")
//
// JSON output is selected with InitWithFormat:
//
//	if err := logging.InitWithFormat(logging.LevelDebug, logging.FormatJSON, os.Stderr); err != nil {
//		return err
//	}
//
// # Subsystems
//
//   - **Discovery**: provider metadata and JWKS retrieval
//   - **Flow**: authorization code flow engine
//   - **Token**: token exchange, refresh and revocation
//   - **AuthState**: persisted authentication state
//   - **SecureStore**: storage backends
//   - **Browser**: loopback redirect handling
//   - **CLI**: command line front end
//
// # Audit Logging
//
// Security-relevant changes are logged with Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "token_refresh",
//	    Outcome: "failure",
//	    Issuer:  issuer,
//	    Error:   "invalid_grant",
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix. Credentials
// never appear in log output; wrap them in oauth.Redacted when they must be
// passed to a logger.
//
// Logging before initialization is silent for Debug and Info; Warn and Error
// fall back to stderr.
package logging
