package scanqueue

import (
	"context"
	"time"
)

// Store is the durable queue contract. Implementations assign sequence
// numbers on Append and must preserve enqueue order in PeekBatch.
//
// Infrastructure failures are returned wrapped around
// sentinel.ErrUnavailable so the service can degrade durability without
// losing the verdict.
type Store interface {
	// Append persists a new entry and assigns its sequence number.
	Append(ctx context.Context, e *Entry) error

	// GetByIdempotencyKey returns the entry for a key, or
	// sentinel.ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*Entry, error)

	// PeekBatch returns up to n oldest pending entries in sequence order.
	// Failed entries are excluded until an operator retry flips them back
	// to pending.
	PeekBatch(ctx context.Context, n int) ([]*Entry, error)

	// MarkSyncing transitions an entry to syncing.
	MarkSyncing(ctx context.Context, seq int64) error

	// MarkSynced finalizes an entry, recording whether the optimistic
	// verdict was superseded by authoritative state.
	MarkSynced(ctx context.Context, seq int64, superseded bool, at time.Time) error

	// MarkFailed records a terminal sync failure; the entry waits for an
	// operator-triggered retry.
	MarkFailed(ctx context.Context, seq int64, lastError string) error

	// RetryFailed flips all failed entries back to pending, returning how
	// many were requeued.
	RetryFailed(ctx context.Context) (int, error)

	// PurgeSynced deletes synced entries finalized before olderThan and
	// returns how many were removed.
	PurgeSynced(ctx context.Context, olderThan time.Time) (int, error)

	// Counts reports queue depth by status.
	Counts(ctx context.Context) (Counts, error)
}
