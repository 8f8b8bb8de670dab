package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/danielgtaylor/huma/v2"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Recovery turns a handler panic into a 500 problem response. Aborted
// handlers keep panicking so net/http can drop the connection, and nothing
// is written when the response has already started.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				requestLogger(logger, r).ErrorContext(r.Context(), "handler panicked",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))

				if ww, ok := w.(chimiddleware.WrapResponseWriter); ok && ww.Status() != 0 {
					return
				}
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(&huma.ErrorModel{
					Title:  http.StatusText(http.StatusInternalServerError),
					Status: http.StatusInternalServerError,
					Detail: "unexpected server error",
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
