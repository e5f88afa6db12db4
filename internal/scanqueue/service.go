package scanqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"turnstile/internal/occupancy"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

// Service wraps the queue store with verdict computation and idempotency
// dedup. Verdict computation and persistence are independent steps: a
// storage failure degrades durability, never the feedback shown at the gate.
type Service struct {
	store     Store
	snapshots *SnapshotCache
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the queue metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates the queue service.
func NewService(store Store, snapshots *SnapshotCache, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot cache is required")
	}

	svc := &Service{store: store, snapshots: snapshots}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Snapshots exposes the shared snapshot cache for the online scan path.
func (s *Service) Snapshots() *SnapshotCache {
	return s.snapshots
}

// Enqueue computes the optimistic verdict for an attempt and persists it
// for later reconciliation.
//
// An attempt whose idempotency key is already queued (any status except a
// purged one) is a no-op returning the stored verdict: duplicate taps of
// the same physical scan must yield identical feedback and exactly one
// queue entry.
//
// When persistence fails the verdict is still returned alongside a
// CodeUnavailable error so the UI can show the decision and a degraded
// durability warning.
func (s *Service) Enqueue(ctx context.Context, attempt ScanAttempt) (occupancy.Verdict, error) {
	if existing, err := s.store.GetByIdempotencyKey(ctx, attempt.IdempotencyKey); err == nil {
		if s.metrics != nil {
			s.metrics.Deduplicated.Inc()
		}
		return existing.Verdict, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		// Dedup lookup failed; fall through and compute the verdict anyway.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "queue dedup lookup failed", "error", err)
		}
	}

	decision := occupancy.Decide(s.snapshots.Get(attempt.Credential), attempt.Policy, attempt.ScannedAt)

	entry := &Entry{
		Attempt:    attempt,
		Verdict:    decision.Verdict,
		Status:     StatusPending,
		EnqueuedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "queue persistence failed, verdict not durable",
				"credential", attempt.Credential, "device_id", attempt.DeviceID, "error", err)
		}
		if s.metrics != nil {
			s.metrics.StorageErrors.Inc()
		}
		return decision.Verdict, dErrors.Wrap(err, dErrors.CodeUnavailable, "scan queued verdict could not be persisted")
	}

	// Chain the optimistic next state so consecutive offline scans of the
	// same credential decide against each other, not against a stale read.
	if decision.Changed {
		s.snapshots.Put(decision.NextState)
	}

	if s.metrics != nil {
		s.metrics.Enqueued.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "scan attempt queued",
			"seq", entry.Seq, "credential", attempt.Credential,
			"admitted", decision.Verdict.Admitted, "policy", attempt.Policy)
	}
	return decision.Verdict, nil
}

// PeekBatch passes through to the store.
func (s *Service) PeekBatch(ctx context.Context, n int) ([]*Entry, error) {
	return s.store.PeekBatch(ctx, n)
}

// MarkSyncing passes through to the store.
func (s *Service) MarkSyncing(ctx context.Context, seq int64) error {
	return s.store.MarkSyncing(ctx, seq)
}

// MarkSynced finalizes an entry at the request-scoped time.
func (s *Service) MarkSynced(ctx context.Context, seq int64, superseded bool) error {
	if err := s.store.MarkSynced(ctx, seq, superseded, requestcontext.Now(ctx)); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Synced.Inc()
		if superseded {
			s.metrics.Superseded.Inc()
		}
	}
	return nil
}

// MarkFailed records a terminal failure; the entry is surfaced to the
// operator and never silently dropped.
func (s *Service) MarkFailed(ctx context.Context, seq int64, cause error) error {
	if err := s.store.MarkFailed(ctx, seq, cause.Error()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Failed.Inc()
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "queue entry failed after exhausting retries",
			"seq", seq, "error", cause)
	}
	return nil
}

// RetryFailed requeues failed entries on operator request.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	return s.store.RetryFailed(ctx)
}

// PurgeSynced removes long-synced entries.
func (s *Service) PurgeSynced(ctx context.Context, olderThan time.Time) (int, error) {
	return s.store.PurgeSynced(ctx, olderThan)
}

// Counts reports queue depth for the pending indicator.
func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.store.Counts(ctx)
}
