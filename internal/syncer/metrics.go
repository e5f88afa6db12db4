package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks reconciliation outcomes.
type Metrics struct {
	EntriesSynced     prometheus.Counter
	EntriesSuperseded prometheus.Counter
	EntriesFailed     prometheus.Counter
}

// NewMetrics registers sync metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_sync_entries_total",
			Help: "Queue entries reconciled against the remote ticket store.",
		}),
		EntriesSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_sync_superseded_total",
			Help: "Entries whose optimistic verdict lost to authoritative state.",
		}),
		EntriesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnstile_sync_failed_total",
			Help: "Entries that exhausted reconciliation retries.",
		}),
	}
}
