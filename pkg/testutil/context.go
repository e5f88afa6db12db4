package testutil

import (
	"net/http"
	"time"

	"turnstile/pkg/requestcontext"
)

// WithClientIdentity adds a rate-limit identity to the request context.
// This simulates what the metadata middleware would do for a real request.
func WithClientIdentity(req *http.Request, identity string) *http.Request {
	ctx := requestcontext.WithClientIdentity(req.Context(), identity)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock, matching the requesttime
// middleware, so time-sensitive handlers are deterministic under test.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	ctx := requestcontext.WithTime(req.Context(), t)
	return req.WithContext(ctx)
}
