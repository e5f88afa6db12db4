// Package gate orchestrates a scan: authoritative path against the remote
// ticket store when it answers, optimistic enqueue when it does not.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"turnstile/internal/occupancy"
	"turnstile/internal/scanqueue"
	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/audit"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

// casAttempts bounds commit retries against concurrent scans of the same
// credential from other devices.
const casAttempts = 5

// ScanRequest is one scan as submitted by a device.
type ScanRequest struct {
	Credential     string            `json:"credential"`
	DeviceID       string            `json:"device_id"`
	Policy         models.ScanPolicy `json:"policy"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// ScanResult is the verdict plus whether it was queued for later sync.
type ScanResult struct {
	Verdict occupancy.Verdict `json:"verdict"`
	// Queued is true when the remote store was unreachable and the scan
	// awaits reconciliation; the verdict is then optimistic.
	Queued bool `json:"queued"`
	// Degraded is true when the verdict could not be persisted either; a
	// restart before connectivity returns loses this attempt.
	Degraded bool `json:"degraded,omitempty"`
}

// Service routes scans between the online and offline paths.
type Service struct {
	tickets store.Store
	queue   *scanqueue.Service
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates the gate service.
func New(tickets store.Store, queue *scanqueue.Service, opts ...Option) (*Service, error) {
	if tickets == nil {
		return nil, errors.New("ticket store is required")
	}
	if queue == nil {
		return nil, errors.New("scan queue is required")
	}

	s := &Service{tickets: tickets, queue: queue}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scan decides one attempt. Business-rule denials (revoked, already used,
// unknown credential) are successful results, not errors; only invalid
// input or a doubly-failed persistence path returns an error.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if err := validate(req); err != nil {
		return ScanResult{}, err
	}
	now := requestcontext.Now(ctx)

	snapshot, err := s.fetch(ctx, req.Credential)
	if err != nil {
		// Remote store unreachable: optimistic verdict, queued for sync.
		return s.scanOffline(ctx, req, now, err)
	}

	verdict, err := s.commit(ctx, req, snapshot, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return s.scanOffline(ctx, req, now, err)
		}
		return ScanResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "scan could not be committed")
	}

	if !verdict.Admitted {
		audit.Log(ctx, s.logger, "admission_denied",
			"credential", req.Credential, "device_id", req.DeviceID,
			"policy", string(req.Policy), "reason", string(verdict.Reason))
	}
	return ScanResult{Verdict: verdict}, nil
}

// fetch reads the authoritative snapshot and refreshes the local cache.
// A nil pointer with nil error means the credential is unknown.
func (s *Service) fetch(ctx context.Context, credential string) (*models.Ticket, error) {
	t, err := s.tickets.Get(ctx, credential)
	switch {
	case err == nil:
		s.queue.Snapshots().Put(t)
		return &t, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// commit runs the decision and applies it with a bounded CAS retry loop.
func (s *Service) commit(ctx context.Context, req ScanRequest, snapshot *models.Ticket, now time.Time) (occupancy.Verdict, error) {
	for range casAttempts {
		decision := occupancy.Decide(snapshot, req.Policy, now)

		if decision.Changed {
			err := s.tickets.ConditionalUpdate(ctx, snapshot.Version(), decision.NextState)
			if errors.Is(err, sentinel.ErrConflict) {
				snapshot, err = s.fetch(ctx, req.Credential)
				if err != nil {
					return occupancy.Verdict{}, err
				}
				continue
			}
			if err != nil {
				return occupancy.Verdict{}, err
			}
			s.queue.Snapshots().Put(decision.NextState)
		}

		s.appendHistory(ctx, req, decision, now)
		return decision.Verdict, nil
	}
	return occupancy.Verdict{}, sentinel.ErrConflict
}

func (s *Service) appendHistory(ctx context.Context, req ScanRequest, decision occupancy.Decision, now time.Time) {
	rec := models.ScanHistoryRecord{
		ID:         uuid.New(),
		Credential: req.Credential,
		DeviceID:   req.DeviceID,
		Direction:  decision.Verdict.Direction,
		Admitted:   decision.Verdict.Admitted,
		Reason:     string(decision.Verdict.Reason),
		OccurredAt: now,
		Snapshot:   decision.NextState,
	}
	if err := s.tickets.AppendHistory(ctx, rec); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "scan history append failed, admission state already committed",
			"credential", req.Credential, "device_id", req.DeviceID, "error", err)
	}
}

func (s *Service) scanOffline(ctx context.Context, req ScanRequest, now time.Time, cause error) (ScanResult, error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "remote ticket store unreachable, queueing scan",
			"credential", req.Credential, "device_id", req.DeviceID, "error", cause)
	}

	verdict, err := s.queue.Enqueue(ctx, scanqueue.ScanAttempt{
		ID:             uuid.New(),
		Credential:     req.Credential,
		DeviceID:       req.DeviceID,
		Policy:         req.Policy,
		ScannedAt:      now,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		// Verdict computation survived; only durability is gone.
		return ScanResult{Verdict: verdict, Queued: true, Degraded: true}, nil
	}
	return ScanResult{Verdict: verdict, Queued: true}, nil
}

// Lookup returns the current snapshot for a credential, falling back to
// the device-local cache when the remote store is unreachable.
func (s *Service) Lookup(ctx context.Context, credential string) (models.Ticket, error) {
	if credential == "" {
		return models.Ticket{}, dErrors.New(dErrors.CodeBadRequest, "credential is required")
	}

	t, err := s.tickets.Get(ctx, credential)
	switch {
	case err == nil:
		s.queue.Snapshots().Put(t)
		return t, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return models.Ticket{}, dErrors.Wrap(err, dErrors.CodeNotFound, "ticket not found")
	}

	if cached := s.queue.Snapshots().Get(credential); cached != nil {
		return *cached, nil
	}
	return models.Ticket{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket store unreachable")
}

// QueueCounts reports the pending indicator for operator tooling.
func (s *Service) QueueCounts(ctx context.Context) (scanqueue.Counts, error) {
	return s.queue.Counts(ctx)
}

// RetryFailed requeues failed queue entries on operator request.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	return s.queue.RetryFailed(ctx)
}

func validate(req ScanRequest) error {
	if req.Credential == "" {
		return dErrors.New(dErrors.CodeBadRequest, "credential is required")
	}
	if req.DeviceID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "device_id is required")
	}
	if !req.Policy.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown scan policy")
	}
	if req.IdempotencyKey == "" {
		return dErrors.New(dErrors.CodeBadRequest, "idempotency_key is required")
	}
	return nil
}
