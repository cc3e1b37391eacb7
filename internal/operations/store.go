package operations

import (
	"sort"
	"sync"
	"time"
)

// record pairs an operation with its own lock so concurrent item
// completions on different operations never contend with each other.
type record struct {
	mu sync.Mutex
	op *Operation
}

// Store is the in-memory table of operations and the single source of
// truth for progress and status queries. Mutate is the only write path.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewStore creates an empty operation store
func NewStore() *Store {
	return &Store{
		records: make(map[string]*record),
	}
}

// Create registers a new pending operation and returns its id
func (s *Store) Create(userID string, kind Kind, items []*Item, metadata map[string]interface{}) string {
	op := newOperation(userID, kind, items, metadata)

	s.mu.Lock()
	s.records[op.ID] = &record{op: op}
	s.mu.Unlock()

	return op.ID
}

// SetUploads attaches buffered upload payloads to a pending operation.
// The executor consumes and releases them on finalize.
func (s *Store) SetUploads(id string, uploads []UploadInput) error {
	rec, ok := s.lookup(id)
	if !ok {
		return NewNotFoundError(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.op.uploads = uploads
	return nil
}

// Get returns a value-copy snapshot of the operation
func (s *Store) Get(id string) (Snapshot, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, NewNotFoundError(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.op.snapshot(), nil
}

// ListItems returns item copies in submission order with pagination
func (s *Store) ListItems(id string, limit, offset int) ([]Item, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, NewNotFoundError(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	items := rec.op.Items
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []Item{}, nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]Item, 0, end-offset)
	for _, item := range items[offset:end] {
		result = append(result, copyItem(item))
	}
	return result, nil
}

// ListForUser returns snapshots of a user's operations, newest first
func (s *Store) ListForUser(userID string, limit int) []Snapshot {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	var result []Snapshot
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.op.UserID == userID {
			result = append(result, rec.op.snapshot())
		}
		rec.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Mutate applies fn to the operation under its record lock. This is the
// only way operation and item state changes; the per-operation lock
// serializes concurrent writers so counter updates cannot be lost.
func (s *Store) Mutate(id string, fn func(op *Operation)) error {
	rec, ok := s.lookup(id)
	if !ok {
		return NewNotFoundError(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	fn(rec.op)
	return nil
}

// Remove deletes an operation. Fails with InvalidState unless terminal.
func (s *Store) Remove(id string) error {
	rec, ok := s.lookup(id)
	if !ok {
		return NewNotFoundError(id)
	}

	rec.mu.Lock()
	terminal := rec.op.Status.IsTerminal()
	status := rec.op.Status
	rec.mu.Unlock()

	if !terminal {
		return NewInvalidStateError(id, status, StatusCompleted)
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// CleanupCompleted removes terminal operations idle past the retention
// window and returns how many were removed.
func (s *Store) CleanupCompleted(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		rec, ok := s.lookup(id)
		if !ok {
			continue
		}
		rec.mu.Lock()
		stale := rec.op.Status.IsTerminal() &&
			rec.op.CompletedAt != nil && rec.op.CompletedAt.Before(cutoff)
		rec.mu.Unlock()

		if stale {
			if err := s.Remove(id); err == nil {
				removed++
			}
		}
	}
	return removed
}

// Count returns the number of tracked operations
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}
