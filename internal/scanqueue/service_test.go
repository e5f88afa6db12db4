package scanqueue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/internal/ticket/models"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/sentinel"
)

func newService(t *testing.T, store Store) (*Service, *SnapshotCache) {
	t.Helper()
	snapshots := NewSnapshotCache()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc, err := NewService(store, snapshots, WithLogger(logger))
	require.NoError(t, err)
	return svc, snapshots
}

func TestEnqueue_OptimisticVerdictFromCachedSnapshot(t *testing.T) {
	svc, snapshots := newService(t, NewInMemoryStore())
	snapshots.Put(models.Ticket{
		Credential:      "TKT-1",
		CurrentStatus:   models.Outside,
		AdmissionStatus: models.AdmissionIssued,
	})

	verdict, err := svc.Enqueue(context.Background(), newAttempt("TKT-1"))
	require.NoError(t, err)
	assert.True(t, verdict.Admitted)
	assert.Equal(t, models.DirectionEntry, verdict.Direction)
}

func TestEnqueue_UnknownCredentialDeniedNotQueuedAsAdmission(t *testing.T) {
	svc, _ := newService(t, NewInMemoryStore())

	verdict, err := svc.Enqueue(context.Background(), newAttempt("TKT-unseen"))
	require.NoError(t, err)
	assert.False(t, verdict.Admitted)
	assert.Equal(t, "NOT_FOUND", string(verdict.Reason))
}

func TestEnqueue_IdempotencyKeyDedup(t *testing.T) {
	store := NewInMemoryStore()
	svc, snapshots := newService(t, store)
	snapshots.Put(models.Ticket{
		Credential:      "TKT-1",
		CurrentStatus:   models.Outside,
		AdmissionStatus: models.AdmissionIssued,
	})

	attempt := newAttempt("TKT-1")
	first, err := svc.Enqueue(context.Background(), attempt)
	require.NoError(t, err)

	// Same physical scan delivered twice: identical verdict, one entry.
	duplicate := attempt
	duplicate.ID = uuid.New()
	second, err := svc.Enqueue(context.Background(), duplicate)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending, "exactly one queue entry for one physical scan")
}

func TestEnqueue_DedupHoldsAfterSync(t *testing.T) {
	store := NewInMemoryStore()
	svc, snapshots := newService(t, store)
	snapshots.Put(models.Ticket{
		Credential:      "TKT-1",
		CurrentStatus:   models.Outside,
		AdmissionStatus: models.AdmissionIssued,
	})

	attempt := newAttempt("TKT-1")
	first, err := svc.Enqueue(context.Background(), attempt)
	require.NoError(t, err)

	entry, err := store.GetByIdempotencyKey(context.Background(), attempt.IdempotencyKey)
	require.NoError(t, err)
	require.NoError(t, svc.MarkSynced(context.Background(), entry.Seq, false))

	second, err := svc.Enqueue(context.Background(), attempt)
	require.NoError(t, err)
	assert.Equal(t, first, second, "synced entries still answer duplicate taps")
}

// failingStore fails every write but lets dedup lookups miss.
type failingStore struct {
	InMemoryStore
}

func (f *failingStore) Append(context.Context, *Entry) error {
	return errors.Join(sentinel.ErrUnavailable, errors.New("disk full"))
}

func (f *failingStore) GetByIdempotencyKey(context.Context, string) (*Entry, error) {
	return nil, sentinel.ErrNotFound
}

func TestEnqueue_PersistenceFailureStillReturnsVerdict(t *testing.T) {
	svc, snapshots := newService(t, &failingStore{})
	snapshots.Put(models.Ticket{
		Credential:      "TKT-1",
		CurrentStatus:   models.Outside,
		AdmissionStatus: models.AdmissionIssued,
	})

	verdict, err := svc.Enqueue(context.Background(), newAttempt("TKT-1"))

	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
	assert.True(t, verdict.Admitted, "verdict computation is independent of persistence")
}

func TestPurgeSynced_Passthrough(t *testing.T) {
	store := NewInMemoryStore()
	svc, _ := newService(t, store)
	entries := appendN(t, store, 1)
	require.NoError(t, store.MarkSynced(context.Background(), entries[0].Seq, false, time.Now().Add(-2*time.Hour)))

	purged, err := svc.PurgeSynced(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}
