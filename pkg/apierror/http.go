package apierror

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Write classifies err and renders it as a plain-text response: one status
// code and the formatted message, nothing else.
func Write(w http.ResponseWriter, err error) *Error {
	apiErr := Classify(err)
	if apiErr == nil {
		apiErr = NewInternalServerError("unknown error")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(apiErr.Status())
	_, _ = w.Write([]byte(apiErr.Error()))
	return apiErr
}

// HandlerFunc is an HTTP handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.HandlerFunc. A returned error is logged (warn for
// 4xx, error for 5xx, info for DependencyMissing) and written with Write.
// The request id comes from the logger's context extractors; see
// requestid.Extractor.
func Handle(log *slog.Logger, fn HandlerFunc) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		apiErr := Write(w, err)

		level := slog.LevelError
		switch status := apiErr.Status(); {
		case status < http.StatusBadRequest:
			level = slog.LevelInfo
		case status < http.StatusInternalServerError:
			level = slog.LevelWarn
		}
		log.Log(r.Context(), level, "request failed",
			logger.Component("http"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", apiErr.Status()),
			slog.String("kind", apiErr.Kind.String()),
			logger.Error(err),
		)
	}
}
