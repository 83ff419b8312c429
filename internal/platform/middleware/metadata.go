package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"bastion/pkg/requestcontext"
)

// ClientMetadata resolves the client IP and parses the User-Agent header into
// context before any guard runs. Every downstream defense keys off the IP
// resolved here, so it must be the first middleware after RequestID.
//
// X-Forwarded-For is trusted only for its first entry; the site sits behind a
// single reverse proxy that appends exactly one hop.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ctx = requestcontext.WithClientIP(ctx, resolveClientIP(r))

		rawUA := r.Header.Get("User-Agent")
		ctx = requestcontext.WithUserAgent(ctx, rawUA)
		if rawUA != "" {
			ctx = requestcontext.WithDeviceInfo(ctx, summarizeUserAgent(rawUA))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveClientIP extracts the originating client IP from forwarding headers,
// falling back to the connection's remote address.
func resolveClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" && net.ParseIP(real) != nil {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// summarizeUserAgent reduces a User-Agent string to "browser/version (os)" for
// security event details. Full UA strings are too noisy for event records.
func summarizeUserAgent(raw string) string {
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	summary := name
	if version != "" {
		summary += "/" + version
	}
	if os := ua.OS(); os != "" {
		summary += " (" + os + ")"
	}
	return summary
}
