package persistence

import (
	"context"
	"sync"
)

// InMemoryStore is a goroutine-safe EnvelopeStore backed by a slice.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

var _ EnvelopeStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	rec.Envelope = rec.Envelope.Clone()
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var result []Record
	for _, rec := range s.records {
		if !filter.match(rec) {
			continue
		}
		rec.Envelope = rec.Envelope.Clone()
		result = append(result, rec)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
