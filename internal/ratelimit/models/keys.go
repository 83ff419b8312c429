package models

import (
	"fmt"
	"strings"
)

// Key is a value object encapsulating rate limit bucket key construction.
// It centralizes key format and sanitization to prevent key collision attacks.
type Key struct {
	identifier string
	scope      RouteScope
}

// NewKey creates a rate limit key composing client identity and route scope.
func NewKey(identifier string, scope RouteScope) Key {
	return Key{
		identifier: sanitizeKeySegment(identifier),
		scope:      scope,
	}
}

// String returns the formatted key for storage lookup.
func (k Key) String() string {
	return fmt.Sprintf("ip:%s:%s", k.identifier, k.scope)
}

// sanitizeKeySegment escapes delimiter characters in key segments so
// user-controlled identifiers containing ':' cannot collide with adjacent
// buckets.
//
// Escape rules (order matters):
//  1. Escape '_' to '__' (escape the escape character first)
//  2. Escape ':' to '_c' (escape the delimiter)
//
// No two distinct inputs produce the same sanitized output.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
