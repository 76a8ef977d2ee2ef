package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skinsight/skinsight/pkg/models"
)

// DefaultMemoryCapacity bounds the in-memory history.
const DefaultMemoryCapacity = 1000

// MemoryStore keeps the most recent records in memory, evicting the oldest
// once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*models.Record // oldest first
	byID     map[string]*models.Record
	capacity int
}

// NewMemoryStore creates an in-memory store. A non-positive capacity selects
// DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		byID:     make(map[string]*models.Record),
		capacity: capacity,
	}
}

// Record stores a copy of rec, assigning an ID and timestamp when missing.
func (s *MemoryStore) Record(_ context.Context, rec *models.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[cp.ID]; ok {
		*old = cp
		return nil
	}
	if len(s.records) >= s.capacity {
		evicted := s.records[0]
		delete(s.byID, evicted.ID)
		s.records = s.records[1:]
	}
	s.records = append(s.records, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "record", Key: id}
	}
	cp := *rec
	return &cp, nil
}

// Recent returns records newest first.
func (s *MemoryStore) Recent(_ context.Context, filter ListFilter) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Record{}
	skipped := 0
	for i := len(s.records) - 1; i >= 0 && len(out) < filter.limit(); i-- {
		rec := s.records[i]
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	purged := 0
	for _, rec := range s.records {
		if rec.CreatedAt.Before(before) {
			delete(s.byID, rec.ID)
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	clear(s.records[len(kept):])
	s.records = kept
	return purged, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
