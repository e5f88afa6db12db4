package metadata

import (
	"net/http"
	"strings"

	"turnstile/pkg/requestcontext"
)

// ClientMetadata extracts the client IP, User-Agent, and rate-limit identity
// from the request and adds them to the context for handlers and services.
// This middleware should be applied early in the chain.
//
// The rate-limit identity prefers the scanner's API key so that gate devices
// behind one venue NAT are limited independently; anonymous callers fall
// back to the forwarded client IP.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromRequest(r)

		ctx := r.Context()
		ctx = requestcontext.WithClientMetadata(ctx, ip, r.Header.Get("User-Agent"))

		identity := ip
		if apiKey := strings.TrimSpace(r.Header.Get("X-API-Key")); apiKey != "" {
			identity = "key:" + apiKey
		}
		ctx = requestcontext.WithClientIdentity(ctx, identity)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// Check X-Forwarded-For header first (standard for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Take the first IP which is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (used by nginx and other proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (direct connection)
	// RemoteAddr is "ip:port" for IPv4 and "[::1]:port" for IPv6
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
