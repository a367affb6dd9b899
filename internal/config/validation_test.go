package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := GetDefaultConfig()
	cfg.Issuer = "https://dex.example.com"
	cfg.ClientID = "cli"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "loopback http issuer",
			mutate: func(c *Config) { c.Issuer = "http://127.0.0.1:5556/dex" },
		},
		{
			name:       "plain http issuer",
			mutate:     func(c *Config) { c.Issuer = "http://dex.example.com" },
			wantFields: []string{"issuer"},
		},
		{
			name:       "issuer with query",
			mutate:     func(c *Config) { c.Issuer = "https://dex.example.com?tenant=a" },
			wantFields: []string{"issuer"},
		},
		{
			name:       "relative redirect",
			mutate:     func(c *Config) { c.RedirectURI = "/callback" },
			wantFields: []string{"redirectURI"},
		},
		{
			name:   "custom scheme redirect",
			mutate: func(c *Config) { c.RedirectURI = "com.example.app:/oauth2redirect" },
		},
		{
			name:       "no scopes",
			mutate:     func(c *Config) { c.Scopes = nil },
			wantFields: []string{"scopes"},
		},
		{
			name:       "scope with space",
			mutate:     func(c *Config) { c.Scopes = []string{"openid email"} },
			wantFields: []string{"scopes"},
		},
		{
			name:       "negative skew",
			mutate:     func(c *Config) { c.ClockSkew = -time.Second },
			wantFields: []string{"clockSkew"},
		},
		{
			name:   "maximum skew",
			mutate: func(c *Config) { c.ClockSkew = MaxClockSkew },
		},
		{
			name: "zero timeouts",
			mutate: func(c *Config) {
				c.HTTPTimeout = 0
				c.FlowTimeout = 0
			},
			wantFields: []string{"httpTimeout", "flowTimeout"},
		},
		{
			name:       "unknown backend",
			mutate:     func(c *Config) { c.Storage.Backend = "etcd" },
			wantFields: []string{"storage.backend"},
		},
		{
			name:       "redis without address",
			mutate:     func(c *Config) { c.Storage.Backend = BackendRedis },
			wantFields: []string{"storage.redis.addr"},
		},
		{
			name:       "postgres without dsn",
			mutate:     func(c *Config) { c.Storage.Backend = BackendPostgres },
			wantFields: []string{"storage.dsn"},
		},
		{
			name:       "sqlite without path",
			mutate:     func(c *Config) { c.Storage.Backend = BackendSQLite },
			wantFields: []string{"storage.path"},
		},
		{
			name:       "empty session",
			mutate:     func(c *Config) { c.Storage.Session = " " },
			wantFields: []string{"storage.session"},
		},
		{
			name: "bad logging",
			mutate: func(c *Config) {
				c.Log.Level = "verbose"
				c.Log.Format = "xml"
			},
			wantFields: []string{"log.level", "log.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			assert.ElementsMatch(t, tt.wantFields, errs.Fields())
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("issuer", "is required")
	assert.True(t, errs.HasErrors())
	assert.Equal(t, "field 'issuer': is required", errs.Error())

	errs.Add("clientID", "is required", "")
	assert.Equal(t, "validation failed: field 'issuer': is required; field 'clientID': is required", errs.Error())
}
