package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Well-known protected resources.
const (
	ResourceAuth          = "auth"
	ResourceAPI           = "api"
	ResourceUpload        = "upload"
	ResourceExport        = "export"
	ResourcePasswordReset = "password_reset"
	ResourceInvite        = "invite"
)

// DefaultResource is consulted for resources without their own limit.
const DefaultResource = ResourceAPI

// ErrInvalidLimit indicates a non-positive request quota or window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Limit is the quota for one resource.
type Limit struct {
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests" json:"requests"`

	// Window is the window length.
	Window time.Duration `yaml:"window" json:"window"`

	// Burst is extra headroom admitted on top of Requests within a window.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// Validate checks that the limit is usable.
func (l Limit) Validate() error {
	switch {
	case l.Requests <= 0:
		return fmt.Errorf("%w: requests must be positive, got %d", ErrInvalidLimit, l.Requests)
	case l.Window <= 0:
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidLimit, l.Window)
	case l.Burst < 0:
		return fmt.Errorf("%w: burst must be non-negative, got %d", ErrInvalidLimit, l.Burst)
	}
	return nil
}

func (l Limit) quota() int64 {
	return int64(l.Requests) + int64(l.Burst)
}

// DefaultLimits returns the built-in per-resource limits.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ResourceAuth:          {Requests: 10, Window: 5 * time.Minute},
		ResourceAPI:           {Requests: 1000, Window: time.Hour},
		ResourceUpload:        {Requests: 100, Window: time.Hour},
		ResourceExport:        {Requests: 10, Window: time.Hour},
		ResourcePasswordReset: {Requests: 3, Window: time.Hour},
		ResourceInvite:        {Requests: 50, Window: 24 * time.Hour},
	}
}

// Config configures the limiter.
type Config struct {
	// Limits maps resource names to quotas. Entries override the defaults.
	Limits map[string]Limit `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// Resolved returns the defaults merged with the configured limits.
func (c *Config) Resolved() map[string]Limit {
	limits := DefaultLimits()
	if c != nil {
		for res, l := range c.Limits {
			limits[res] = l
		}
	}
	return limits
}

// Validate reports every invalid limit.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	resources := make([]string, 0, len(c.Limits))
	for res := range c.Limits {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	var errs []error
	for _, res := range resources {
		if res == "" {
			errs = append(errs, fmt.Errorf("%w: empty resource name", ErrInvalidLimit))
			continue
		}
		if err := c.Limits[res].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %w", res, err))
		}
	}
	return errors.Join(errs...)
}
