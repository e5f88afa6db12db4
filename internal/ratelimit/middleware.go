package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"turnstile/pkg/platform/httputil"
	"turnstile/pkg/requestcontext"
)

// Middleware enforces the limiter per request. The identity and the
// request time are taken from the context set by the metadata and
// requesttime middlewares.
func Middleware(limiter *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := requestcontext.ClientIdentity(ctx)
			if identity == "" {
				identity = r.RemoteAddr
			}

			result := limiter.Allow(identity, requestcontext.Now(ctx))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if logger != nil {
					logger.WarnContext(ctx, "rate limit exceeded",
						"identity", identity, "retry_after", result.RetryAfter)
				}
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     "Too many requests. Please try again later.",
					"retry_after": result.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
