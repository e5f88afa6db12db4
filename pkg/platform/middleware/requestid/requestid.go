// Package requestid assigns a request ID to every inbound request so audit
// and security log lines can be correlated across subsystems.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"turnstile/pkg/requestcontext"
)

// Header is the response header carrying the assigned request ID.
const Header = "X-Request-ID"

// Middleware reuses a caller-supplied request ID when present, otherwise
// generates one, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(Header)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(Header, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
