package scanqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks queue activity for the pending-count indicator and sync
// health dashboards.
type Metrics struct {
	Enqueued      prometheus.Counter
	Deduplicated  prometheus.Counter
	Synced        prometheus.Counter
	Superseded    prometheus.Counter
	Failed        prometheus.Counter
	StorageErrors prometheus.Counter
}

// NewMetrics creates and registers the queue metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_enqueued_total",
			Help: "Scan attempts placed on the local queue",
		}),
		Deduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_deduplicated_total",
			Help: "Enqueue calls answered from an existing idempotency key",
		}),
		Synced: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_synced_total",
			Help: "Queue entries reconciled against the remote store",
		}),
		Superseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_superseded_total",
			Help: "Queue entries whose optimistic verdict was overturned",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_failed_total",
			Help: "Queue entries that exhausted sync retries",
		}),
		StorageErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_queue_storage_errors_total",
			Help: "Local queue persistence failures",
		}),
	}
}
