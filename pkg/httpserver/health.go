package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Check is a named readiness probe, e.g. storage.Gateway.Healthcheck().
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// Liveness answers 200 "ALIVE" while the process serves HTTP at all.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ALIVE")
	}
}

// Readiness runs every check with the given timeout. It answers 200 "READY"
// when all pass and 503 "NOT_READY: <names>" listing the failed ones.
func Readiness(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var failed []string
		for _, c := range checks {
			if c.Fn == nil {
				continue
			}
			if err := c.Fn(ctx); err != nil {
				failed = append(failed, c.Name)
				log.WarnContext(ctx, "readiness check failed",
					slog.String("check", c.Name),
					logger.Error(err),
				)
			}
		}

		if len(failed) > 0 {
			writeText(w, http.StatusServiceUnavailable, "NOT_READY: "+strings.Join(failed, ", "))
			return
		}
		writeText(w, http.StatusOK, "READY")
	}
}

// HealthRoutes mounts /live and /ready on a router:
//
//	r.Route("/health", httpserver.HealthRoutes(log, 2*time.Second, checks...))
func HealthRoutes(log *slog.Logger, timeout time.Duration, checks ...Check) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/live", Liveness())
		r.Get("/ready", Readiness(log, timeout, checks...))
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
