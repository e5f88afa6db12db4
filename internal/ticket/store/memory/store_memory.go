// Package memory holds the in-memory ticket store used by unit tests and
// single-node dev deployments.
package memory

import (
	"context"
	"sync"

	"turnstile/internal/ticket/models"
	"turnstile/pkg/platform/sentinel"
)

// Store implements store.Store with RWMutex-guarded maps. Conditional
// updates take the write lock for the whole compare-and-swap, giving the
// same exactly-one-winner semantics as the Postgres implementation.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]models.Ticket
	history []models.ScanHistoryRecord
}

// New creates an empty in-memory ticket store.
func New() *Store {
	return &Store{tickets: make(map[string]models.Ticket)}
}

func (s *Store) Get(_ context.Context, credential string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[credential]
	if !ok {
		return models.Ticket{}, sentinel.ErrNotFound
	}
	return t, nil
}

func (s *Store) ConditionalUpdate(_ context.Context, expected models.Version, next models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[next.Credential]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version() != expected {
		return sentinel.ErrConflict
	}
	s.tickets[next.Credential] = next
	return nil
}

func (s *Store) Put(_ context.Context, t models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.Credential] = t
	return nil
}

func (s *Store) AppendHistory(_ context.Context, rec models.ScanHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

// History returns a copy of the appended records, oldest first. Test helper.
func (s *Store) History() []models.ScanHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ScanHistoryRecord{}, s.history...)
}
