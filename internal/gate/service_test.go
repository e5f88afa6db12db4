package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/internal/occupancy"
	"turnstile/internal/scanqueue"
	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store/memory"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/sentinel"
)

func newService(t *testing.T, tickets *downableStore) (*Service, *scanqueue.InMemoryStore) {
	t.Helper()
	queueStore := scanqueue.NewInMemoryStore()
	queue, err := scanqueue.NewService(queueStore, scanqueue.NewSnapshotCache())
	require.NoError(t, err)
	svc, err := New(tickets, queue, WithLogger(nil))
	require.NoError(t, err)
	return svc, queueStore
}

func scan(credential string, policy models.ScanPolicy) ScanRequest {
	return ScanRequest{
		Credential:     credential,
		DeviceID:       "gate-1",
		Policy:         policy,
		IdempotencyKey: uuid.NewString(),
	}
}

func TestScan_OnlineSingleEntryAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	tickets := newDownableStore(t, models.Ticket{
		Credential: "t1", CurrentStatus: models.Outside, AdmissionStatus: models.AdmissionIssued,
	})
	svc, _ := newService(t, tickets)

	first, err := svc.Scan(ctx, scan("t1", models.PolicySingleEntry))
	require.NoError(t, err)
	assert.True(t, first.Verdict.Admitted)
	assert.Equal(t, models.DirectionEntry, first.Verdict.Direction)
	assert.False(t, first.Queued)

	second, err := svc.Scan(ctx, scan("t1", models.PolicySingleEntry))
	require.NoError(t, err)
	assert.False(t, second.Verdict.Admitted)
	assert.Equal(t, occupancy.ReasonAlreadyUsed, second.Verdict.Reason)
	require.NotNil(t, second.Verdict.LastEntryAt)

	got, err := tickets.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.EntryCount)
	assert.Len(t, tickets.backing.History(), 2, "denials are recorded too")
}

func TestScan_UnknownCredentialDeniedWithoutStateChange(t *testing.T) {
	tickets := newDownableStore(t)
	svc, _ := newService(t, tickets)

	res, err := svc.Scan(context.Background(), scan("ghost", models.PolicyReEntry))
	require.NoError(t, err)
	assert.False(t, res.Verdict.Admitted)
	assert.Equal(t, occupancy.ReasonNotFound, res.Verdict.Reason)
	assert.False(t, res.Queued)
}

func TestScan_OfflineFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	tickets := newDownableStore(t, models.Ticket{
		Credential: "t1", CurrentStatus: models.Outside, AdmissionStatus: models.AdmissionIssued,
	})
	svc, queueStore := newService(t, tickets)

	// Prime the snapshot cache while online.
	_, err := svc.Lookup(ctx, "t1")
	require.NoError(t, err)

	tickets.down = true
	res, err := svc.Scan(ctx, scan("t1", models.PolicyReEntry))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.True(t, res.Verdict.Admitted)
	assert.Equal(t, models.DirectionEntry, res.Verdict.Direction)

	counts, err := queueStore.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func TestScan_CommitFailureStillYieldsQueuedVerdict(t *testing.T) {
	ctx := context.Background()
	tickets := newDownableStore(t, models.Ticket{
		Credential: "t1", CurrentStatus: models.Outside, AdmissionStatus: models.AdmissionIssued,
	})
	svc, queueStore := newService(t, tickets)

	// Reads answer, the write does not: the device still shows a verdict
	// and the attempt lands in the queue rather than surfacing an error.
	tickets.writesDown = true
	res, err := svc.Scan(ctx, scan("t1", models.PolicySingleEntry))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.True(t, res.Verdict.Admitted)
	assert.False(t, res.Degraded)

	counts, err := queueStore.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func TestScan_ValidationErrors(t *testing.T) {
	svc, _ := newService(t, newDownableStore(t))

	cases := map[string]ScanRequest{
		"no credential": {DeviceID: "d", Policy: models.PolicyReEntry, IdempotencyKey: "k"},
		"no device":     {Credential: "c", Policy: models.PolicyReEntry, IdempotencyKey: "k"},
		"bad policy":    {Credential: "c", DeviceID: "d", Policy: "vip-only", IdempotencyKey: "k"},
		"no idem key":   {Credential: "c", DeviceID: "d", Policy: models.PolicyReEntry},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Scan(context.Background(), req)
			assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err))
		})
	}
}

func TestLookup_FallsBackToCachedSnapshotWhenDown(t *testing.T) {
	ctx := context.Background()
	tickets := newDownableStore(t, models.Ticket{
		Credential: "t1", CurrentStatus: models.Inside, EntryCount: 1,
		AdmissionStatus: models.AdmissionUsed,
	})
	svc, _ := newService(t, tickets)

	fresh, err := svc.Lookup(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.Inside, fresh.CurrentStatus)

	tickets.down = true
	cached, err := svc.Lookup(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, fresh, cached)

	_, err = svc.Lookup(ctx, "never-seen")
	assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
}

func TestLookup_NotFound(t *testing.T) {
	svc, _ := newService(t, newDownableStore(t))
	_, err := svc.Lookup(context.Background(), "ghost")
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

// downableStore delegates to a memory store until down is set. With
// writesDown only, reads still answer, mimicking connectivity lost between
// the snapshot fetch and the commit.
type downableStore struct {
	backing    *memory.Store
	down       bool
	writesDown bool
}

func newDownableStore(t *testing.T, seed ...models.Ticket) *downableStore {
	t.Helper()
	s := &downableStore{backing: memory.New()}
	for _, tk := range seed {
		require.NoError(t, s.backing.Put(context.Background(), tk))
	}
	return s
}

func (s *downableStore) Get(ctx context.Context, credential string) (models.Ticket, error) {
	if s.down {
		return models.Ticket{}, sentinel.ErrUnavailable
	}
	return s.backing.Get(ctx, credential)
}

func (s *downableStore) ConditionalUpdate(ctx context.Context, expected models.Version, next models.Ticket) error {
	if s.down {
		return sentinel.ErrUnavailable
	}
	if s.writesDown {
		// Wrapped the way the pgx store reports transport failures.
		return fmt.Errorf("conditional update %q: %w", next.Credential,
			errors.Join(sentinel.ErrUnavailable, errors.New("connection refused")))
	}
	return s.backing.ConditionalUpdate(ctx, expected, next)
}

func (s *downableStore) Put(ctx context.Context, tk models.Ticket) error {
	if s.down {
		return sentinel.ErrUnavailable
	}
	return s.backing.Put(ctx, tk)
}

func (s *downableStore) AppendHistory(ctx context.Context, rec models.ScanHistoryRecord) error {
	if s.down {
		return sentinel.ErrUnavailable
	}
	return s.backing.AppendHistory(ctx, rec)
}
