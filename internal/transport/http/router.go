// Package httptransport is the thin HTTP layer. Handlers delegate to the
// gate service and the webhook pipeline; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turnstile/internal/gate"
	"turnstile/internal/ratelimit"
	"turnstile/internal/respcache"
	"turnstile/internal/webhook"
	"turnstile/pkg/platform/middleware/metadata"
	"turnstile/pkg/platform/middleware/requestid"
	"turnstile/pkg/platform/middleware/requesttime"
)

// Deps collects everything the router wires together.
type Deps struct {
	Gate     *gate.Service
	Webhooks *webhook.Handler
	Limiter  *ratelimit.Limiter
	Cache    respcache.Cache
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// NewRouter builds the full route tree.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	h := &Handler{gate: d.Gate, logger: d.Logger}

	r.Route("/gate", func(r chi.Router) {
		r.Post("/scans", h.handleScan)
		r.Get("/queue", h.handleQueueCounts)
		r.Post("/queue/retry", h.handleQueueRetry)
	})

	r.Group(func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(ratelimit.Middleware(d.Limiter, d.Logger))
		}
		r.Group(func(r chi.Router) {
			if d.Cache != nil {
				r.Use(respcache.Middleware(d.Cache))
			}
			r.Get("/tickets/{credential}", h.handleLookup)
		})
		if d.Webhooks != nil {
			r.Method(http.MethodPost, "/webhooks/admissions", d.Webhooks)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
