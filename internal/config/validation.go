package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/giantswarm/oidcflow/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Fields returns the names of the fields that failed validation.
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(ve))
	for _, err := range ve {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Issuer) == "" {
		errs.Add("issuer", "is required")
	} else if err := validateProviderURL(c.Issuer); err != nil {
		errs.Add("issuer", err.Error(), c.Issuer)
	}

	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add("clientID", "is required")
	}

	if strings.TrimSpace(c.RedirectURI) == "" {
		errs.Add("redirectURI", "is required")
	} else if u, err := url.Parse(c.RedirectURI); err != nil || !u.IsAbs() {
		errs.Add("redirectURI", "must be an absolute URI", c.RedirectURI)
	} else if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		errs.Add("redirectURI", "must name a host", c.RedirectURI)
	} else if u.Fragment != "" {
		errs.Add("redirectURI", "must not contain a fragment", c.RedirectURI)
	}

	if len(c.Scopes) == 0 {
		errs.Add("scopes", "must have at least one scope")
	}
	for _, scope := range c.Scopes {
		if scope == "" || strings.ContainsAny(scope, " \t\"\\") {
			errs.Add("scopes", fmt.Sprintf("invalid scope %q", scope), scope)
		}
	}

	if c.ClockSkew < 0 || c.ClockSkew > MaxClockSkew {
		errs.Add("clockSkew", fmt.Sprintf("must be between 0 and %s", MaxClockSkew), c.ClockSkew)
	}
	if c.HTTPTimeout <= 0 {
		errs.Add("httpTimeout", "must be positive", c.HTTPTimeout)
	}
	if c.FlowTimeout <= 0 {
		errs.Add("flowTimeout", "must be positive", c.FlowTimeout)
	}
	if c.RefreshThreshold < 0 {
		errs.Add("refreshThreshold", "must not be negative", c.RefreshThreshold)
	}

	c.Storage.validate(&errs)

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.Add("log.level", "must be one of: debug, info, warn, error", c.Log.Level)
	}
	if err := validateOneOf("log.format", c.Log.Format, []string{logging.FormatText, logging.FormatJSON}); err != nil {
		errs = append(errs, *err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (s StorageConfig) validate(errs *ValidationErrors) {
	if strings.TrimSpace(s.Session) == "" {
		errs.Add("storage.session", "is required")
	}

	backends := []string{BackendFile, BackendMemory, BackendRedis, BackendSQLite, BackendPostgres}
	if err := validateOneOf("storage.backend", s.Backend, backends); err != nil {
		*errs = append(*errs, *err)
		return
	}

	switch s.Backend {
	case BackendRedis:
		if s.Redis.Addr == "" {
			errs.Add("storage.redis.addr", "is required for the redis backend")
		}
		if s.Redis.DB < 0 {
			errs.Add("storage.redis.db", "must not be negative", s.Redis.DB)
		}
	case BackendSQLite:
		if s.Path == "" {
			errs.Add("storage.path", "is required for the sqlite backend")
		}
	case BackendPostgres:
		if s.DSN == "" {
			errs.Add("storage.dsn", "is required for the postgres backend")
		}
	}
}

func validateOneOf(field, value string, allowed []string) *ValidationError {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// validateProviderURL requires https, allowing plain http only for loopback hosts.
func validateProviderURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not contain a query or fragment")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if ip := net.ParseIP(host); host == "localhost" || ip != nil && ip.IsLoopback() {
			return nil
		}
		return fmt.Errorf("must use https")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}
