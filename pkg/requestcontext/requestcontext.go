// Package requestcontext carries request-scoped values through the guard chain.
// Keys are unexported struct types so other packages cannot collide with them.
package requestcontext

import (
	"context"
	"time"

	id "bastion/pkg/domain"
)

type (
	requestIDKey  struct{}
	clientIPKey   struct{}
	userAgentKey  struct{}
	subjectIDKey  struct{}
	sessionIDKey  struct{}
	roleKey       struct{}
	deviceInfoKey struct{}
	clockKey      struct{}
)

// WithRequestID stores the correlation ID for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID retrieves the correlation ID, or "" when absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithClientIP stores the resolved client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP retrieves the resolved client IP, or "unknown" when absent so
// rate-limit keys and event records never carry an empty identity segment.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithUserAgent stores the raw User-Agent header.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// UserAgent retrieves the raw User-Agent header, or "".
func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(userAgentKey{}).(string)
	return v
}

// WithDeviceInfo stores the parsed browser/OS summary for event enrichment.
func WithDeviceInfo(ctx context.Context, info string) context.Context {
	return context.WithValue(ctx, deviceInfoKey{}, info)
}

// DeviceInfo retrieves the parsed browser/OS summary, or "".
func DeviceInfo(ctx context.Context) string {
	v, _ := ctx.Value(deviceInfoKey{}).(string)
	return v
}

// WithSubjectID stores the authenticated subject.
func WithSubjectID(ctx context.Context, subjectID id.SubjectID) context.Context {
	return context.WithValue(ctx, subjectIDKey{}, subjectID)
}

// SubjectID retrieves the authenticated subject; ok is false for anonymous requests.
func SubjectID(ctx context.Context) (id.SubjectID, bool) {
	v, ok := ctx.Value(subjectIDKey{}).(id.SubjectID)
	return v, ok
}

// WithSessionID stores the session identifier.
func WithSessionID(ctx context.Context, sessionID id.SessionID) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID retrieves the session identifier; ok is false when unauthenticated.
func SessionID(ctx context.Context) (id.SessionID, bool) {
	v, ok := ctx.Value(sessionIDKey{}).(id.SessionID)
	return v, ok
}

// WithRole stores the authenticated role string.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// Role retrieves the authenticated role, or "".
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey{}).(string)
	return v
}

// WithClock overrides the clock used by Now. Tests inject a fixed or stepping
// clock here to make window arithmetic and expiry checks deterministic.
func WithClock(ctx context.Context, now func() time.Time) context.Context {
	return context.WithValue(ctx, clockKey{}, now)
}

// Now returns the request-scoped clock's current time, falling back to
// time.Now. All guard-chain time comparisons go through this so they can be
// tested without sleeping.
func Now(ctx context.Context) time.Time {
	if fn, ok := ctx.Value(clockKey{}).(func() time.Time); ok {
		return fn()
	}
	return time.Now()
}
