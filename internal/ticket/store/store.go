// Package store defines the remote ticket store contract. The remote store
// is the single source of truth for ticket state; everything local is a
// snapshot plus pending deltas.
package store

import (
	"context"

	"turnstile/internal/ticket/models"
)

// Store is the authoritative ticket interface consumed by the gate service
// and the sync coordinator.
//
// Implementations return pkg/platform/sentinel errors for infrastructure
// facts: ErrNotFound for unknown credentials, ErrConflict when a conditional
// update loses the version race, ErrUnavailable for transport failures.
type Store interface {
	// Get returns the current ticket snapshot for a credential.
	Get(ctx context.Context, credential string) (models.Ticket, error)

	// ConditionalUpdate applies next atomically iff the stored ticket still
	// matches expected. On a version mismatch it returns sentinel.ErrConflict
	// and leaves the stored ticket untouched.
	ConditionalUpdate(ctx context.Context, expected models.Version, next models.Ticket) error

	// Put creates or unconditionally replaces a ticket. Only the webhook
	// ingestion path uses this; gate scans always go through
	// ConditionalUpdate.
	Put(ctx context.Context, t models.Ticket) error

	// AppendHistory records an admitted or denied attempt. Append-only;
	// failures here never roll back a committed ticket update.
	AppendHistory(ctx context.Context, rec models.ScanHistoryRecord) error
}
