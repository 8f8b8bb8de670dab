package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/lidarcap/internal/observability"
)

// requestLogger scopes logger to one request.
func requestLogger(logger *slog.Logger, r *http.Request) *slog.Logger {
	return observability.WithRequestID(logger, GetRequestID(r.Context())).With(
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// statusLevel picks the log level for a finished request: debug for
// success, warn for client errors, error for server errors.
func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// NewLoggingMiddleware logs one line per request once the handler returns.
// Long-lived preview streams are logged when the client goes away.
func NewLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestLogger(logger, r).Log(r.Context(), statusLevel(status), "http request",
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
