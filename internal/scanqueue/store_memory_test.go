package scanqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/internal/occupancy"
	"turnstile/internal/ticket/models"
	"turnstile/pkg/platform/sentinel"
)

func newAttempt(credential string) ScanAttempt {
	return ScanAttempt{
		ID:             uuid.New(),
		Credential:     credential,
		DeviceID:       "gate-1",
		Policy:         models.PolicyReEntry,
		ScannedAt:      time.Now().UTC(),
		IdempotencyKey: uuid.NewString(),
	}
}

func appendN(t *testing.T, s Store, n int) []*Entry {
	t.Helper()
	entries := make([]*Entry, 0, n)
	for i := range n {
		e := &Entry{
			Attempt:    newAttempt(fmt.Sprintf("TKT-%d", i)),
			Verdict:    occupancy.Verdict{Admitted: true, Direction: models.DirectionEntry},
			Status:     StatusPending,
			EnqueuedAt: time.Now().UTC(),
		}
		require.NoError(t, s.Append(context.Background(), e))
		entries = append(entries, e)
	}
	return entries
}

func TestMemoryStore_AppendAssignsMonotonicSeq(t *testing.T) {
	s := NewInMemoryStore()
	entries := appendN(t, s, 3)

	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)
}

func TestMemoryStore_PeekBatchIsFIFO(t *testing.T) {
	s := NewInMemoryStore()
	entries := appendN(t, s, 5)

	batch, err := s.PeekBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, e := range batch {
		assert.Equal(t, entries[i].Seq, e.Seq, "batch must return oldest entries in order")
	}
}

func TestMemoryStore_PeekBatchSkipsNonPending(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	entries := appendN(t, s, 3)

	require.NoError(t, s.MarkSynced(ctx, entries[0].Seq, false, time.Now()))
	require.NoError(t, s.MarkFailed(ctx, entries[1].Seq, "remote down"))

	batch, err := s.PeekBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, entries[2].Seq, batch[0].Seq)
}

func TestMemoryStore_RetryFailedRequeues(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	entries := appendN(t, s, 2)

	require.NoError(t, s.MarkFailed(ctx, entries[0].Seq, "remote down"))

	n, err := s.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	batch, err := s.PeekBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 2, "failed entry is pending again")
}

func TestMemoryStore_GetByIdempotencyKey(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	entries := appendN(t, s, 1)

	got, err := s.GetByIdempotencyKey(ctx, entries[0].Attempt.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, entries[0].Seq, got.Seq)

	_, err = s.GetByIdempotencyKey(ctx, "unknown")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_PurgeSynced(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	entries := appendN(t, s, 3)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.MarkSynced(ctx, entries[0].Seq, false, old))
	require.NoError(t, s.MarkSynced(ctx, entries[1].Seq, true, time.Now()))

	purged, err := s.PurgeSynced(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1, Synced: 1}, counts)
}
