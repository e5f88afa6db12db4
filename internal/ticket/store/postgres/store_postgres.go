// Package postgres holds the production ticket store. Conditional updates
// are a single UPDATE guarded by the expected counters and status, so two
// devices racing on one ticket resolve in the database: exactly one row
// matches, the other writer sees sentinel.ErrConflict.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"turnstile/internal/ticket/models"
	"turnstile/pkg/platform/sentinel"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Postgres-backed ticket store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tickets and scan_history tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tickets (
	credential       TEXT PRIMARY KEY,
	current_status   TEXT NOT NULL DEFAULT 'outside',
	entry_count      INT  NOT NULL DEFAULT 0,
	exit_count       INT  NOT NULL DEFAULT 0,
	last_entry_at    TIMESTAMPTZ,
	last_exit_at     TIMESTAMPTZ,
	admission_status TEXT NOT NULL DEFAULT 'issued',
	CONSTRAINT occupancy_counters CHECK (entry_count >= exit_count AND exit_count >= entry_count - 1)
);
CREATE TABLE IF NOT EXISTS scan_history (
	id          UUID PRIMARY KEY,
	credential  TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	direction   TEXT,
	admitted    BOOLEAN NOT NULL,
	reason      TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	snapshot    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_history_credential_idx ON scan_history (credential, occurred_at);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ticket schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, credential string) (models.Ticket, error) {
	const q = `
SELECT credential, current_status, entry_count, exit_count, last_entry_at, last_exit_at, admission_status
FROM tickets WHERE credential = $1`

	var t models.Ticket
	err := s.pool.QueryRow(ctx, q, credential).Scan(
		&t.Credential, &t.CurrentStatus, &t.EntryCount, &t.ExitCount,
		&t.LastEntryAt, &t.LastExitAt, &t.AdmissionStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("get ticket %q: %w", credential, errors.Join(sentinel.ErrUnavailable, err))
	}
	return t, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, expected models.Version, next models.Ticket) error {
	const q = `
UPDATE tickets
SET current_status = $1, entry_count = $2, exit_count = $3,
    last_entry_at = $4, last_exit_at = $5, admission_status = $6
WHERE credential = $7
  AND entry_count = $8 AND exit_count = $9 AND current_status = $10`

	tag, err := s.pool.Exec(ctx, q,
		next.CurrentStatus, next.EntryCount, next.ExitCount,
		next.LastEntryAt, next.LastExitAt, next.AdmissionStatus,
		next.Credential,
		expected.EntryCount, expected.ExitCount, expected.CurrentStatus,
	)
	if err != nil {
		return fmt.Errorf("conditional update %q: %w", next.Credential, errors.Join(sentinel.ErrUnavailable, err))
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a deleted ticket.
		if _, getErr := s.Get(ctx, next.Credential); errors.Is(getErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) Put(ctx context.Context, t models.Ticket) error {
	const q = `
INSERT INTO tickets (credential, current_status, entry_count, exit_count, last_entry_at, last_exit_at, admission_status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (credential) DO UPDATE SET
	current_status = EXCLUDED.current_status,
	entry_count = EXCLUDED.entry_count,
	exit_count = EXCLUDED.exit_count,
	last_entry_at = EXCLUDED.last_entry_at,
	last_exit_at = EXCLUDED.last_exit_at,
	admission_status = EXCLUDED.admission_status`

	_, err := s.pool.Exec(ctx, q,
		t.Credential, t.CurrentStatus, t.EntryCount, t.ExitCount,
		t.LastEntryAt, t.LastExitAt, t.AdmissionStatus,
	)
	if err != nil {
		return fmt.Errorf("put ticket %q: %w", t.Credential, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, rec models.ScanHistoryRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal history snapshot: %w", err)
	}

	const q = `
INSERT INTO scan_history (id, credential, device_id, direction, admitted, reason, occurred_at, snapshot)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.Credential, rec.DeviceID, string(rec.Direction),
		rec.Admitted, rec.Reason, rec.OccurredAt, snapshot,
	)
	if err != nil {
		return fmt.Errorf("append scan history: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}
