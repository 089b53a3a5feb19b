package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// validator accumulates errors for one Validate call.
type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, format string, args ...any) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration and returns every problem found as
// ValidationErrors.
func (c *Config) Validate() error {
	v := &validator{}
	if c == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&c.Server)
	v.validateLogging(c)
	v.validateRateLimit(c)
	v.validateAudit(c)
	v.validateAPIKeys(c)
	v.validateTenants(c.Tenants)

	if c.NeedsRedis() && (c.Redis == nil || c.Redis.Address == "") {
		v.addError("redis.address", "is required when a redis store or stream is configured")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "is required")
	}
	timeouts := []struct {
		path string
		d    time.Duration
	}{
		{"server.readTimeout", s.ReadTimeout},
		{"server.writeTimeout", s.WriteTimeout},
		{"server.idleTimeout", s.IdleTimeout},
		{"server.shutdownTimeout", s.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.d < 0 {
			v.addError(t.path, "must be non-negative")
		}
	}
}

func (v *validator) validateLogging(c *Config) {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", "must be json or console, got %q", c.Logging.Format)
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1, got %v", r)
	}
}

func (v *validator) validateRateLimit(c *Config) {
	switch c.RateLimit.Store {
	case StoreMemory, StoreRedis:
	default:
		v.addError("rateLimit.store", "must be %s or %s, got %q", StoreMemory, StoreRedis, c.RateLimit.Store)
	}
	lc := ratelimit.Config{Limits: c.RateLimit.Limits}
	if err := lc.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			v.addError("rateLimit.limits", "%s", line)
		}
	}
	if c.RateLimit.BreakerTimeout < 0 {
		v.addError("rateLimit.breakerTimeout", "must be non-negative")
	}
}

func (v *validator) validateAudit(c *Config) {
	if err := c.Audit.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			v.addError("audit", "%s", line)
		}
	}
}

func (v *validator) validateAPIKeys(c *Config) {
	switch c.APIKeys.Store {
	case StoreMemory, StoreRedis:
	default:
		v.addError("apiKeys.store", "must be %s or %s, got %q", StoreMemory, StoreRedis, c.APIKeys.Store)
	}
	if c.APIKeys.CacheTTL < 0 {
		v.addError("apiKeys.cacheTTL", "must be non-negative")
	}
}

func (v *validator) validateTenants(tenants []TenantConfig) {
	seen := make(map[string]bool, len(tenants))
	for i, t := range tenants {
		path := fmt.Sprintf("tenants[%d]", i)
		if t.ID == "" {
			v.addError(path+".id", "is required")
		} else if seen[t.ID] {
			v.addError(path+".id", "duplicate tenant %q", t.ID)
		}
		seen[t.ID] = true

		roleIDs := make(map[string]bool, len(t.Roles))
		for j, r := range t.Roles {
			rp := fmt.Sprintf("%s.roles[%d]", path, j)
			if r.ID == "" {
				v.addError(rp+".id", "is required")
			} else if roleIDs[r.ID] {
				v.addError(rp+".id", "duplicate role %q", r.ID)
			}
			roleIDs[r.ID] = true
			if len(r.Permissions) == 0 && len(r.Inherits) == 0 {
				v.addError(rp+".permissions", "role must grant or inherit something")
			}
		}

		for j, a := range t.Assignments {
			ap := fmt.Sprintf("%s.assignments[%d]", path, j)
			if a.UserID == "" {
				v.addError(ap+".userId", "is required")
			}
			if a.RoleID == "" {
				v.addError(ap+".roleId", "is required")
			}
			if a.TenantID != "" && t.ID != "" && a.TenantID != t.ID {
				v.addError(ap+".tenantId", "must match tenant %q", t.ID)
			}
		}
	}
}
