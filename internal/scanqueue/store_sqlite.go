package scanqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"turnstile/internal/ticket/models"
	"turnstile/pkg/platform/sentinel"
)

// SQLiteStore is the durable queue used on gate devices. The rowid-backed
// seq column is monotonically increasing, so FIFO order survives process
// restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the queue database at path and
// ensures the schema. The connection is limited to one writer, which is how
// SQLite wants to be used and matches the single-writer-per-device model.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.recoverInterrupted(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// recoverInterrupted requeues entries that were mid-sync when the process
// died. Applying a scan twice is safe: the coordinator re-decides against
// the current remote state and supersedes instead of double-counting.
func (s *SQLiteStore) recoverInterrupted() error {
	if _, err := s.db.Exec(`UPDATE scan_queue SET status = 'pending' WHERE status = 'syncing'`); err != nil {
		return fmt.Errorf("recover interrupted entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS scan_queue (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id   TEXT NOT NULL,
	credential   TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	policy       TEXT NOT NULL,
	scanned_at   INTEGER NOT NULL,
	idem_key     TEXT NOT NULL UNIQUE,
	verdict      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	superseded   INTEGER NOT NULL DEFAULT 0,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	enqueued_at  INTEGER NOT NULL,
	synced_at    INTEGER
);
CREATE INDEX IF NOT EXISTS scan_queue_status_idx ON scan_queue (status, seq);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	verdict, err := json.Marshal(e.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	const q = `
INSERT INTO scan_queue (attempt_id, credential, device_id, policy, scanned_at, idem_key, verdict, status, enqueued_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		e.Attempt.ID.String(), e.Attempt.Credential, e.Attempt.DeviceID,
		string(e.Attempt.Policy), e.Attempt.ScannedAt.UnixMilli(),
		e.Attempt.IdempotencyKey, string(verdict), string(e.Status),
		e.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append queue entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("queue entry seq: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	e.Seq = seq
	return nil
}

const entryColumns = `seq, attempt_id, credential, device_id, policy, scanned_at, idem_key, verdict, status, superseded, retry_count, last_error, enqueued_at, synced_at`

func (s *SQLiteStore) GetByIdempotencyKey(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM scan_queue WHERE idem_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry by key: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return e, nil
}

func (s *SQLiteStore) PeekBatch(ctx context.Context, n int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM scan_queue WHERE status = 'pending' ORDER BY seq LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("peek queue batch: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	defer rows.Close()

	var batch []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		batch = append(batch, e)
	}
	return batch, rows.Err()
}

func (s *SQLiteStore) MarkSyncing(ctx context.Context, seq int64) error {
	return s.exec(ctx, `UPDATE scan_queue SET status = 'syncing' WHERE seq = ?`, seq)
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, seq int64, superseded bool, at time.Time) error {
	return s.exec(ctx,
		`UPDATE scan_queue SET status = 'synced', superseded = ?, synced_at = ?, last_error = '' WHERE seq = ?`,
		superseded, at.UnixMilli(), seq)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, seq int64, lastError string) error {
	return s.exec(ctx,
		`UPDATE scan_queue SET status = 'failed', retry_count = retry_count + 1, last_error = ? WHERE seq = ?`,
		lastError, seq)
}

func (s *SQLiteStore) RetryFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scan_queue SET status = 'pending' WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("retry failed entries: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) PurgeSynced(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_queue WHERE status = 'synced' AND synced_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge synced entries: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM scan_queue GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch EntryStatus(status) {
		case StatusPending:
			c.Pending = n
		case StatusSyncing:
			c.Syncing = n
		case StatusSynced:
			c.Synced = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func (s *SQLiteStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e          Entry
		attemptID  string
		policy     string
		scannedAt  int64
		verdict    string
		status     string
		enqueuedAt int64
		syncedAt   sql.NullInt64
	)
	err := row.Scan(
		&e.Seq, &attemptID, &e.Attempt.Credential, &e.Attempt.DeviceID,
		&policy, &scannedAt, &e.Attempt.IdempotencyKey, &verdict,
		&status, &e.Superseded, &e.RetryCount, &e.LastError,
		&enqueuedAt, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := e.Attempt.ID.UnmarshalText([]byte(attemptID)); err != nil {
		return nil, fmt.Errorf("parse attempt id: %w", err)
	}
	if err := json.Unmarshal([]byte(verdict), &e.Verdict); err != nil {
		return nil, fmt.Errorf("parse stored verdict: %w", err)
	}
	e.Attempt.Policy = models.ScanPolicy(policy)
	e.Attempt.ScannedAt = time.UnixMilli(scannedAt).UTC()
	e.Status = EntryStatus(status)
	e.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	if syncedAt.Valid {
		t := time.UnixMilli(syncedAt.Int64).UTC()
		e.SyncedAt = &t
	}
	return &e, nil
}
