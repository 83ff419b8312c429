package config

import (
	"time"

	"bastion/internal/ratelimit/models"
)

// Limit pairs a request budget with its fixed window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Config maps route scopes to their fixed-window limits. Thresholds live here,
// not in guard logic, so deployments can tune them and tests can pin them.
type Config struct {
	Scopes map[models.RouteScope]Limit
}

// DefaultConfig returns the per-scope limits for the tutoring site.
func DefaultConfig() *Config {
	return &Config{
		Scopes: map[models.RouteScope]Limit{
			models.ScopeAuth:       {Requests: 10, Window: time.Minute},
			models.ScopeContact:    {Requests: 5, Window: time.Minute},
			models.ScopeNewsletter: {Requests: 3, Window: time.Minute},
			models.ScopeRead:       {Requests: 100, Window: time.Minute},
			models.ScopeWrite:      {Requests: 30, Window: time.Minute},
		},
	}
}

// GetLimit returns the limit for a scope; ok is false when none is configured,
// which callers treat as default-deny.
func (c *Config) GetLimit(scope models.RouteScope) (Limit, bool) {
	l, ok := c.Scopes[scope]
	return l, ok
}
