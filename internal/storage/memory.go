package storage

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.PersistenceRecord
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*domain.PersistenceRecord),
		now:     time.Now,
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[documentID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Snapshot = append([]byte(nil), rec.Snapshot...)
	return &cp, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if rec, ok := s.records[documentID]; ok {
		current = rec.Version
	}
	if current != expectedVersion {
		return 0, conflict(documentID, current, expectedVersion)
	}
	s.records[documentID] = &domain.PersistenceRecord{
		DocumentID: documentID,
		Snapshot:   append([]byte(nil), snapshot...),
		Version:    expectedVersion + 1,
		UpdatedAt:  s.now().UTC(),
		Checksum:   Checksum(snapshot),
	}
	return expectedVersion + 1, nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
