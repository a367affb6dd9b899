// Package app wires the oidcflow components together from configuration.
//
// # Architecture Overview
//
// The package is the bootstrap layer between the CLI and the library
// packages:
//
//   - Bootstrap (bootstrap.go): loads config.Config, configures logging and
//     builds the services; hands out client.SyncClient and client.AsyncClient
//   - Configuration (config.go): process-level settings from CLI flags
//   - Services (services.go): transport, discovery resolver, request client,
//     JWKS cache, ID token verifier, secure store backend, auth state store
//     and flow engine, created in dependency order
//
// # Storage Backends
//
// The secure store backend is picked by storage.backend:
//
//   - file: encrypted files under storage.dir (default ~/.config/oidcflow/store)
//   - memory: nothing survives the process
//   - redis: storage.redis.addr, db and key prefix
//   - sqlite: storage.path
//   - postgres: storage.dsn
//
// When the restored auth state carries provider metadata for the configured
// issuer it is seeded into the discovery resolver, so a process resuming a
// pending sign-in does not refetch discovery.
//
// # Usage
//
//	application, err := app.NewApplication(ctx, app.NewConfig(debug, quiet, path))
//	if err != nil {
//	    return err
//	}
//	defer application.Close()
//
//	c := application.Client(&browser.Loopback{})
//	token, err := c.SignIn(ctx)
package app
