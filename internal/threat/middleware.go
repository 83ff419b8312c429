package threat

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"bastion/internal/event"
	"bastion/internal/platform/privacy"
	"bastion/internal/platform/tracer"
	"bastion/pkg/requestcontext"
)

// maxInspectBytes bounds how much body the detector reads. Payloads past the
// bound are truncated for inspection but passed through intact.
const maxInspectBytes = 64 << 10

// Emitter publishes security events; the bus publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// Middleware inspects mutating request bodies before they reach handlers.
// Flagged payloads are rejected with 403 and recorded on the bus; the body is
// rewound for downstream handlers when clean.
func Middleware(detector *Detector, emitter Emitter, logger *slog.Logger, trc tracer.Tracer) func(http.Handler) http.Handler {
	if trc == nil {
		trc = tracer.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectBytes))
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			rest := r.Body
			r.Body = readCloser{io.MultiReader(bytes.NewReader(body), rest), rest}

			// Query strings ride along with the body: injection through URL
			// parameters is just as common as through form fields.
			ctx, span := trc.Start(ctx, tracer.SpanThreatClassify)
			c := detector.Classify(string(body) + "\n" + r.URL.RawQuery)
			span.SetAttributes(tracer.Bool("flagged", c.Flagged))
			span.End(nil)
			if !c.Flagged {
				next.ServeHTTP(w, r)
				return
			}

			ip := requestcontext.ClientIP(ctx)
			logger.WarnContext(ctx, "hostile payload rejected",
				"patterns", c.MatchedPatterns,
				"severity", c.Severity,
				"path", r.URL.Path,
				"ip_prefix", privacy.AnonymizeIP(ip),
				"request_id", requestcontext.RequestID(ctx),
			)

			e, eventErr := event.New(c.EventType, c.Severity, ip, r.URL.Path, map[string]any{
				"patterns": c.MatchedPatterns,
				"method":   r.Method,
				"device":   requestcontext.DeviceInfo(ctx),
			})
			if eventErr == nil {
				_ = emitter.Emit(ctx, e)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"` + mapError(c) + `"}`))
		})
	}
}

func mapError(c Classification) string {
	if c.Severity == event.SeverityCritical {
		return "critical_violation"
	}
	return "suspicious_input"
}

type readCloser struct {
	io.Reader
	io.Closer
}
