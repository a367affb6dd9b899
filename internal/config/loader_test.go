package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
issuer: https://dex.example.com
clientID: cli
clientSecret: s3cret
scopes: [openid, groups]
extraParams:
  prompt: login
clockSkew: 90s
flowTimeout: 5m
storage:
  backend: redis
  session: work
  redis:
    addr: localhost:6379
    db: 2
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://dex.example.com", cfg.Issuer)
	assert.Equal(t, "cli", cfg.ClientID)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	assert.Equal(t, []string{"openid", "groups"}, cfg.Scopes)
	assert.Equal(t, map[string]string{"prompt": "login"}, cfg.ExtraParams)
	assert.Equal(t, 90*time.Second, cfg.ClockSkew)
	assert.Equal(t, 5*time.Minute, cfg.FlowTimeout)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "work", cfg.Storage.Session)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, "json", cfg.Log.Format)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, DefaultRedirectURI, cfg.RedirectURI)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OIDCFLOW_ISSUER", "https://issuer.example.com")
	t.Setenv("OIDCFLOW_CLIENT_ID", "cli")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	defaults := GetDefaultConfig()
	assert.Equal(t, defaults.Scopes, cfg.Scopes)
	assert.Equal(t, defaults.ClockSkew, cfg.ClockSkew)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
issuer: https://file.example.com
clientID: from-file
storage:
  backend: memory
`)
	t.Setenv("OIDCFLOW_ISSUER", "https://env.example.com")
	t.Setenv("OIDCFLOW_SCOPES", "openid email")
	t.Setenv("OIDCFLOW_EXTRA_PARAMS", "prompt:consent,login_hint:jane")
	t.Setenv("OIDCFLOW_STORAGE_BACKEND", "sqlite")
	t.Setenv("OIDCFLOW_STORAGE_PATH", "/tmp/oidcflow.db")
	t.Setenv("OIDCFLOW_HTTP_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Issuer)
	assert.Equal(t, "from-file", cfg.ClientID)
	assert.Equal(t, []string{"openid", "email"}, cfg.Scopes)
	assert.Equal(t, map[string]string{"prompt": "consent", "login_hint": "jane"}, cfg.ExtraParams)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/oidcflow.db", cfg.Storage.Path)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "issuer: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config from")
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	path := writeConfigFile(t, `
issuer: http://dex.example.com
clockSkew: 1h
`)

	_, err := Load(path)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.ElementsMatch(t, []string{"issuer", "clientID", "clockSkew"}, errs.Fields())
}

func TestLoad_DefaultPath(t *testing.T) {
	home := t.TempDir()
	original := osUserHomeDir
	osUserHomeDir = func() (string, error) { return home, nil }
	defer func() { osUserHomeDir = original }()

	dir := filepath.Join(home, userConfigDir)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName),
		[]byte("issuer: https://home.example.com\nclientID: cli\n"), 0600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://home.example.com", cfg.Issuer)
}

func TestApplyEnv_InvalidDuration(t *testing.T) {
	cfg := GetDefaultConfig()
	err := applyEnv(&cfg, map[string]string{"OIDCFLOW_CLOCK_SKEW": "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDCFLOW_")
}

func TestApplyEnv_StorageWatch(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, applyEnv(&cfg, map[string]string{"OIDCFLOW_STORAGE_WATCH": "true"}))
	assert.True(t, cfg.Storage.Watch)
}

func TestConfig_Clone(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ExtraParams = map[string]string{"prompt": "login"}

	clone := cfg.Clone()
	clone.Scopes[0] = "changed"
	clone.ExtraParams["prompt"] = "none"

	assert.Equal(t, "openid", cfg.Scopes[0])
	assert.Equal(t, "login", cfg.ExtraParams["prompt"])
}
