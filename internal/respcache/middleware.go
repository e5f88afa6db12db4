package respcache

import (
	"bytes"
	"net/http"

	"turnstile/pkg/requestcontext"
)

// Middleware serves cached responses for GET requests and records fresh
// ones. Every other method passes straight through; the X-Cache header
// reports hit or miss so callers can observe cache behavior.
func Middleware(cache Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			now := requestcontext.Now(ctx)
			key := Key(r.URL.Path, r.URL.Query())

			if e, ok := cache.Get(ctx, key, now); ok {
				w.Header().Set("X-Cache", "hit")
				if e.ContentType != "" {
					w.Header().Set("Content-Type", e.ContentType)
				}
				w.WriteHeader(e.Status)
				w.Write(e.Body)
				return
			}

			w.Header().Set("X-Cache", "miss")
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Only successful responses are worth replaying.
			if rec.status >= 200 && rec.status < 300 {
				cache.Set(ctx, key, Entry{
					Status:      rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
					StoredAt:    now,
				})
			}
		})
	}
}

// recorder tees the response body so it can be cached after writing.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
