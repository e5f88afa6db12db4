//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"turnstile/internal/ticket/models"
	"turnstile/internal/ticket/store/postgres"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.pg.Pool)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "scan_history", "tickets"))
}

func (s *PostgresStoreSuite) seed(credential string) models.Ticket {
	tk := models.Ticket{
		Credential:      credential,
		CurrentStatus:   models.Outside,
		AdmissionStatus: models.AdmissionIssued,
	}
	s.Require().NoError(s.store.Put(context.Background(), tk))
	return tk
}

func (s *PostgresStoreSuite) TestGet_NotFound() {
	_, err := s.store.Get(context.Background(), "TKT-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConditionalUpdate_RoundTrip() {
	ctx := context.Background()
	tk := s.seed("TKT-1")

	now := time.Now().UTC().Truncate(time.Microsecond)
	next := tk
	next.CurrentStatus = models.Inside
	next.EntryCount = 1
	next.LastEntryAt = &now
	next.AdmissionStatus = models.AdmissionUsed

	s.Require().NoError(s.store.ConditionalUpdate(ctx, tk.Version(), next))

	got, err := s.store.Get(ctx, "TKT-1")
	s.Require().NoError(err)
	s.Equal(models.Inside, got.CurrentStatus)
	s.Equal(1, got.EntryCount)
	s.Equal(models.AdmissionUsed, got.AdmissionStatus)
	s.Require().NotNil(got.LastEntryAt)
	s.WithinDuration(now, *got.LastEntryAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestConditionalUpdate_StaleVersionConflicts() {
	ctx := context.Background()
	tk := s.seed("TKT-2")

	next := tk
	next.CurrentStatus = models.Inside
	next.EntryCount = 1
	s.Require().NoError(s.store.ConditionalUpdate(ctx, tk.Version(), next))

	err := s.store.ConditionalUpdate(ctx, tk.Version(), next)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestAppendHistory() {
	ctx := context.Background()
	tk := s.seed("TKT-3")

	rec := models.ScanHistoryRecord{
		ID:         uuid.New(),
		Credential: tk.Credential,
		DeviceID:   "gate-7",
		Direction:  models.DirectionEntry,
		Admitted:   true,
		OccurredAt: time.Now().UTC(),
		Snapshot:   tk,
	}
	s.Require().NoError(s.store.AppendHistory(ctx, rec))

	var count int
	err := s.pg.Pool.QueryRow(ctx, "SELECT count(*) FROM scan_history WHERE credential = $1", tk.Credential).Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}
