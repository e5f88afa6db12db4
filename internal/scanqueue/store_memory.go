package scanqueue

import (
	"context"
	"sync"
	"time"

	"turnstile/pkg/platform/sentinel"
)

// InMemoryStore implements Store with a mutex-guarded slice. Used by unit
// tests and dev mode; it does not survive restarts, so production devices
// run the SQLite store.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextSeq int64
	entries []*Entry
	byKey   map[string]*Entry
}

// NewInMemoryStore creates an empty in-memory queue store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextSeq: 1, byKey: make(map[string]*Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = s.nextSeq
	s.nextSeq++

	cp := *e
	s.entries = append(s.entries, &cp)
	s.byKey[e.Attempt.IdempotencyKey] = &cp
	return nil
}

func (s *InMemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryStore) PeekBatch(_ context.Context, n int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := make([]*Entry, 0, n)
	for _, e := range s.entries {
		if e.Status != StatusPending {
			continue
		}
		cp := *e
		batch = append(batch, &cp)
		if len(batch) == n {
			break
		}
	}
	return batch, nil
}

func (s *InMemoryStore) MarkSyncing(_ context.Context, seq int64) error {
	return s.update(seq, func(e *Entry) {
		e.Status = StatusSyncing
	})
}

func (s *InMemoryStore) MarkSynced(_ context.Context, seq int64, superseded bool, at time.Time) error {
	return s.update(seq, func(e *Entry) {
		e.Status = StatusSynced
		e.Superseded = superseded
		e.SyncedAt = &at
		e.LastError = ""
	})
}

func (s *InMemoryStore) MarkFailed(_ context.Context, seq int64, lastError string) error {
	return s.update(seq, func(e *Entry) {
		e.Status = StatusFailed
		e.RetryCount++
		e.LastError = lastError
	})
}

func (s *InMemoryStore) RetryFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requeued := 0
	for _, e := range s.entries {
		if e.Status == StatusFailed {
			e.Status = StatusPending
			requeued++
		}
	}
	return requeued, nil
}

func (s *InMemoryStore) PurgeSynced(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	purged := 0
	for _, e := range s.entries {
		if e.Status == StatusSynced && e.SyncedAt != nil && e.SyncedAt.Before(olderThan) {
			delete(s.byKey, e.Attempt.IdempotencyKey)
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return purged, nil
}

func (s *InMemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, e := range s.entries {
		switch e.Status {
		case StatusPending:
			c.Pending++
		case StatusSyncing:
			c.Syncing++
		case StatusSynced:
			c.Synced++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *InMemoryStore) update(seq int64, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Seq == seq {
			fn(e)
			return nil
		}
	}
	return sentinel.ErrNotFound
}
