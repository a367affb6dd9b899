// Package browser implements the user-facing leg of the authorization flow
// for command line hosts.
//
// Loopback opens the system browser and receives the redirect on a
// temporary HTTP server bound to the loopback redirect URI. Manual prints
// the authorization URL and reads the redirect URL from a reader, for hosts
// without a local browser.
package browser
