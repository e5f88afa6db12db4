package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/pkg/requestcontext"
)

func TestAllow_CountsDownWithinWindow(t *testing.T) {
	l := New(3, time.Minute)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 3; i > 0; i-- {
		res := l.Allow("client-a", now)
		assert.True(t, res.Allowed)
		assert.Equal(t, i-1, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	res := l.Allow("client-a", now.Add(30*time.Second))
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, 30, res.RetryAfter)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestAllow_WindowRolloverResetsCounter(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow("client-a", now).Allowed)
	assert.False(t, l.Allow("client-a", now.Add(59*time.Second)).Allowed)
	assert.True(t, l.Allow("client-a", now.Add(time.Minute)).Allowed)
}

func TestAllow_IdentitiesAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("client-a", now).Allowed)
	assert.True(t, l.Allow("client-b", now).Allowed)
	assert.False(t, l.Allow("client-a", now).Allowed)
}

func TestAllow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	const limit = 50
	l := New(limit, time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	allowed := make(chan bool, limit*4)
	for range limit * 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared", now).Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	got := 0
	for ok := range allowed {
		if ok {
			got++
		}
	}
	assert.Equal(t, limit, got)
}

func TestSweep_DropsExpiredBuckets(t *testing.T) {
	l := New(5, time.Minute)
	now := time.Now()

	l.Allow("old", now.Add(-2*time.Minute))
	l.Allow("fresh", now)

	assert.Equal(t, 1, l.Sweep(now))
	// Fresh bucket keeps its count.
	res := l.Allow("fresh", now)
	assert.Equal(t, 3, res.Remaining)
}

func TestMiddleware_SetsHeadersAnd429(t *testing.T) {
	l := New(1, time.Minute)
	handler := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/tickets/abc", nil)
		ctx := requestcontext.WithClientIdentity(req.Context(), "key:device-7")
		ctx = requestcontext.WithTime(ctx, now)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	first := do()
	require.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := do()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")
}
