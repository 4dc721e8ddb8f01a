package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const requestIDContextKey contextKey = iota

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware assigns or propagates a request id, mirroring the
// teacher's RequestIDMiddleware (generate-or-extract, stash in context
// and response header).
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey).(string); ok {
		return id
	}
	return ""
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one structured line per request, mirroring the
// teacher's LoggingMiddleware (method, path, status, duration).
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"durationMs", time.Since(start).Milliseconds(),
				"requestId", requestIDFrom(r.Context()),
			)
		})
	}
}

// adminAuthMiddleware rejects requests missing a valid admin token when
// tokens are configured (spec.md §6: "admin actions accept an opaque
// token via header"). A nil/empty token list disables the check.
func adminAuthMiddleware(header string, tokens []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		allowed[t] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(header)
			if _, ok := allowed[token]; !ok {
				writeError(w, requestIDFrom(r.Context()), CodeUnauthorized, "missing or invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
