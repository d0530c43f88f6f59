package httpx

import (
	"log/slog"
	"net/http"

	"github.com/eleven-am/ferry/internal/ports"
)

// splitBrainRetryAfter is the retry hint handed to clients blocked during
// split-brain.
const splitBrainRetryAfter = "30"

// SplitBrainMiddleware blocks every request with 503 while two or more
// nodes claim leadership. It runs before the forwarding middleware so a
// forward is never attempted into a diverged cluster. Detection failures
// fail open: serving traffic beats blocking on a broken detector.
func SplitBrainMiddleware(detector ports.SplitBrainDetector, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "split-brain-middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if detector == nil {
				next.ServeHTTP(w, r)
				return
			}

			event, err := detector.Check()
			if err != nil {
				logger.Warn("split-brain detection failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if event != nil {
				logger.Error("blocking request during split-brain",
					"leader_count", len(event.ConflictingLeaders),
					"leaders", event.ConflictingLeaders,
				)
				w.Header().Set("Retry-After", splitBrainRetryAfter)
				http.Error(w,
					"service unavailable: cluster split-brain detected, multiple nodes claim leadership",
					http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Forwarder is the middleware surface of the forwarding engine.
type Forwarder interface {
	Middleware(next http.Handler) http.Handler
}

// Chain composes the request pipeline in its required order: split-brain
// first, then write forwarding.
func Chain(detector ports.SplitBrainDetector, forwarder Forwarder, logger *slog.Logger) func(http.Handler) http.Handler {
	splitBrain := SplitBrainMiddleware(detector, logger)
	return func(next http.Handler) http.Handler {
		if forwarder != nil {
			next = forwarder.Middleware(next)
		}
		return splitBrain(next)
	}
}
