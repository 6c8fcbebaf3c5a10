package middleware

import (
	"net/http"
	"time"

	"github.com/poofware/attestation-service/internal/repositories"
	"github.com/poofware/attestation-service/internal/utils"
)

// RateLimitMiddleware enforces a fixed-window per-IP budget on the
// unauthenticated attestation routes. The counter is database-backed so
// every replica shares the same budget.
func RateLimitMiddleware(repo repositories.RateLimitRepository, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.DetectIP(r)
			if ip == "" {
				ip = "unknown"
			}

			allowed, err := repo.IncrementAndCheck(r.Context(), "attest:"+ip, limit, window)
			if err != nil {
				// A broken counter must not take the attestation path
				// down with it.
				utils.Logger.WithError(err).
					WithField("request_id", RequestIDFromContext(r.Context())).
					Warn("Rate limit check failed; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				utils.RespondErrorWithCode(
					w, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded,
					"Too many requests. Please try again later.", nil,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
