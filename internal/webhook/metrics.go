package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks webhook verification outcomes.
type Metrics struct {
	Accepted prometheus.Counter
	Rejected *prometheus.CounterVec
	Alerts   prometheus.Counter
	Events   prometheus.Counter
}

// NewMetrics registers webhook metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_webhook_accepted_total",
			Help: "Webhook requests that passed signature, freshness, and replay checks.",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_webhook_rejected_total",
			Help: "Webhook requests rejected, by reason.",
		}, []string{"reason"}),
		Alerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_webhook_alerts_total",
			Help: "Operator alerts raised for repeated rejections from one client.",
		}),
		Events: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_webhook_events_total",
			Help: "Ticket-admission events applied from accepted webhooks.",
		}),
	}
}
