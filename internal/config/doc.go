// Package config loads the oidcflow client configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. built-in defaults (GetDefaultConfig)
//  2. a YAML file, by default ~/.config/oidcflow/config.yaml
//  3. OIDCFLOW_* environment variables
//
// The result is validated before it is returned; Load never hands out a
// Config that Validate would reject.
//
// # Example config.yaml
//
//	issuer: https://dex.example.com
//	clientID: oidcflow-cli
//	redirectURI: http://127.0.0.1:8765/oauth/callback
//	scopes: [openid, profile, email, offline_access]
//	extraParams:
//	  prompt: login
//	clockSkew: 2m
//	storage:
//	  backend: file
//	  passphrase: change-me
//	log:
//	  level: info
//	  format: text
//
// # Environment
//
// Every field has an environment override named after its YAML path, for
// example OIDCFLOW_ISSUER, OIDCFLOW_SCOPES (space separated),
// OIDCFLOW_EXTRA_PARAMS (prompt:login,login_hint:jane),
// OIDCFLOW_STORAGE_BACKEND and OIDCFLOW_STORAGE_REDIS_ADDR.
package config
