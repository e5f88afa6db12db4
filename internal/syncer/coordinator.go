// Package syncer drains the local scan queue against the remote ticket
// store, reconciling optimistic verdicts with authoritative state. The
// coordinator is idempotent: re-running after a crash mid-batch cannot
// double-apply a transition, because dedup happens at enqueue time and
// every commit is a conditional update.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"turnstile/internal/occupancy"
	"turnstile/internal/scanqueue"
	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store"
	"turnstile/pkg/platform/audit"
	"turnstile/pkg/platform/backoff"
	"turnstile/pkg/platform/circuit"
	"turnstile/pkg/platform/sentinel"
)

// casAttempts bounds the refetch-and-redecide loop when a conditional
// update keeps losing to concurrent writers.
const casAttempts = 5

// Config tunes the drain loop.
type Config struct {
	Workers    int
	BatchSize  int
	Interval   time.Duration
	PurgeAfter time.Duration
	Retry      backoff.Policy
}

// DefaultConfig returns production drain settings.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		BatchSize:  32,
		Interval:   5 * time.Second,
		PurgeAfter: 24 * time.Hour,
		Retry:      backoff.Default(),
	}
}

// Coordinator drains the queue. Entries for the same credential are applied
// in enqueue order; different credentials sync concurrently.
type Coordinator struct {
	queue   *scanqueue.Service
	tickets store.Store
	breaker *circuit.Breaker
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the sync metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithBreaker sets the circuit breaker guarding remote store calls.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Coordinator) {
		c.breaker = b
	}
}

// New creates a Coordinator.
func New(queue *scanqueue.Service, tickets store.Store, cfg Config, opts ...Option) (*Coordinator, error) {
	if queue == nil {
		return nil, errors.New("scan queue is required")
	}
	if tickets == nil {
		return nil, errors.New("ticket store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	c := &Coordinator{
		queue:   queue,
		tickets: tickets,
		breaker: circuit.New("remote-store"),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drains continuously until ctx is cancelled. Cancellation lands
// between entries, never mid-commit; partial batches resume safely.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.breaker.IsOpen() {
				// One probe per tick; success closes the breaker and the
				// next tick drains normally.
				c.probe(ctx)
				continue
			}
			if err := c.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				if c.logger != nil {
					c.logger.ErrorContext(ctx, "drain pass failed", "error", err)
				}
			}
			if c.cfg.PurgeAfter > 0 {
				if _, err := c.queue.PurgeSynced(ctx, time.Now().Add(-c.cfg.PurgeAfter)); err != nil && c.logger != nil {
					c.logger.WarnContext(ctx, "purge of synced entries failed", "error", err)
				}
			}
		}
	}
}

func (c *Coordinator) probe(ctx context.Context) {
	// Any credential works; NotFound still proves the store answers.
	_, err := c.tickets.Get(ctx, "connectivity-probe")
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		c.breaker.RecordFailure()
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed && c.logger != nil {
		c.logger.InfoContext(ctx, "remote store reachable again, resuming drain")
	}
}

// DrainOnce syncs a single batch. Exported so tests and operator tooling
// can force a pass without the ticker.
func (c *Coordinator) DrainOnce(ctx context.Context) error {
	batch, err := c.queue.PeekBatch(ctx, c.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	// Stripe by credential: order within a credential is preserved by
	// running its entries on one goroutine.
	byCredential := make(map[string][]*scanqueue.Entry)
	order := make([]string, 0)
	for _, e := range batch {
		cred := e.Attempt.Credential
		if _, seen := byCredential[cred]; !seen {
			order = append(order, cred)
		}
		byCredential[cred] = append(byCredential[cred], e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, cred := range order {
		entries := byCredential[cred]
		g.Go(func() error {
			for _, entry := range entries {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.syncEntry(gctx, entry)
			}
			return nil
		})
	}
	return g.Wait()
}

// syncEntry reconciles one queue entry. All terminal outcomes are recorded
// on the queue; only infrastructure failures leave the entry for a retry.
func (c *Coordinator) syncEntry(ctx context.Context, entry *scanqueue.Entry) {
	if err := c.queue.MarkSyncing(ctx, entry.Seq); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "could not mark entry syncing", "seq", entry.Seq, "error", err)
		}
		return
	}

	var superseded bool
	err := c.cfg.Retry.Retry(ctx, func() error {
		var applyErr error
		superseded, applyErr = c.apply(ctx, entry)
		if applyErr == nil {
			c.breaker.RecordSuccess()
			return nil
		}
		if isTransient(applyErr) {
			c.breaker.RecordFailure()
			return applyErr
		}
		return backoff.Permanent(applyErr)
	})

	if err != nil {
		if markErr := c.queue.MarkFailed(ctx, entry.Seq, err); markErr != nil && c.logger != nil {
			c.logger.ErrorContext(ctx, "could not mark entry failed", "seq", entry.Seq, "error", markErr)
		}
		if c.metrics != nil {
			c.metrics.EntriesFailed.Inc()
		}
		return
	}

	if err := c.queue.MarkSynced(ctx, entry.Seq, superseded); err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "could not mark entry synced", "seq", entry.Seq, "error", err)
	}
	if c.metrics != nil {
		c.metrics.EntriesSynced.Inc()
		if superseded {
			c.metrics.EntriesSuperseded.Inc()
		}
	}
}

// apply re-evaluates the entry against authoritative state and commits the
// transition when the optimistic verdict still holds. It returns whether
// the optimistic verdict was superseded.
func (c *Coordinator) apply(ctx context.Context, entry *scanqueue.Entry) (superseded bool, err error) {
	attempt := entry.Attempt

	for range casAttempts {
		var snapshot *models.Ticket
		current, err := c.tickets.Get(ctx, attempt.Credential)
		switch {
		case err == nil:
			snapshot = &current
			c.queue.Snapshots().Put(current)
		case errors.Is(err, sentinel.ErrNotFound):
			snapshot = nil
		default:
			return false, err
		}

		decision := occupancy.Decide(snapshot, attempt.Policy, attempt.ScannedAt)
		superseded = !occupancy.Matches(entry.Verdict, decision.Verdict)

		if superseded && c.logger != nil {
			audit.Log(ctx, c.logger, "scan_verdict_superseded",
				"seq", entry.Seq,
				"credential", attempt.Credential,
				"device_id", attempt.DeviceID,
				"optimistic_admitted", entry.Verdict.Admitted,
				"authoritative_admitted", decision.Verdict.Admitted,
				"authoritative_reason", decision.Verdict.Reason,
			)
		}

		if decision.Changed && !superseded {
			err = c.tickets.ConditionalUpdate(ctx, snapshot.Version(), decision.NextState)
			if errors.Is(err, sentinel.ErrConflict) {
				// Another device committed first; re-evaluate against the
				// new authoritative state.
				continue
			}
			if err != nil {
				return false, err
			}
			c.queue.Snapshots().Put(decision.NextState)
		}

		rec := models.ScanHistoryRecord{
			ID:         uuid.New(),
			Credential: attempt.Credential,
			DeviceID:   attempt.DeviceID,
			Direction:  decision.Verdict.Direction,
			Admitted:   decision.Verdict.Admitted,
			Reason:     string(decision.Verdict.Reason),
			OccurredAt: attempt.ScannedAt,
			Snapshot:   decision.NextState,
		}
		if superseded {
			// The queued verdict lost to a concurrent commit; the audit trail
			// records the denial, not the transition the device assumed.
			rec.Admitted = false
			rec.Direction = ""
			rec.Reason = "SUPERSEDED"
			if snapshot != nil {
				rec.Snapshot = *snapshot
			}
		}
		c.appendHistory(ctx, rec)
		return superseded, nil
	}

	return false, sentinel.ErrConflict
}

// appendHistory records the attempt outcome. History failures never roll
// back a committed ticket update; they are retried independently and
// logged as a data-completeness defect when exhausted.
func (c *Coordinator) appendHistory(ctx context.Context, rec models.ScanHistoryRecord) {
	err := c.cfg.Retry.Retry(ctx, func() error {
		return c.tickets.AppendHistory(ctx, rec)
	})
	if err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "scan history append failed, admission state already committed",
			"credential", rec.Credential, "device_id", rec.DeviceID, "error", err)
	}
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, sentinel.ErrNotFound),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, sentinel.ErrInvalidState):
		return false
	}
	return true
}
