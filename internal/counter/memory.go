package counter

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	cooldownUntil time.Time
	inflight      int64
}

// MemoryStore implements Store in process memory.
// Entries are created on first reference and never evicted; cooldowns are
// evaluated against the clock rather than deleted.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an isolated in-process store. now nil means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

// entry must be called with mu held
func (s *MemoryStore) entry(id string) *memoryEntry {
	e, ok := s.entries[id]
	if !ok {
		e = &memoryEntry{}
		s.entries[id] = e
	}
	return e
}

// GetCooldown returns the deadline while it is still ahead of the clock, the zero time otherwise
func (s *MemoryStore) GetCooldown(ctx context.Context, id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.cooldownUntil) {
		return time.Time{}, nil
	}
	return e.cooldownUntil, nil
}

// SetCooldown records the deadline
func (s *MemoryStore) SetCooldown(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(id).cooldownUntil = until
	return nil
}

// IncrInflight adds one outstanding lease
func (s *MemoryStore) IncrInflight(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id)
	e.inflight++
	return e.inflight, nil
}

// DecrInflight removes one outstanding lease, clamped at zero
func (s *MemoryStore) DecrInflight(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(id)
	if e.inflight > 0 {
		e.inflight--
	}
	return e.inflight, nil
}

// GetInflight returns the number of outstanding leases
func (s *MemoryStore) GetInflight(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		return e.inflight, nil
	}
	return 0, nil
}

// Len returns how many credentials have counter state
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close is a no-op for the in-process store
func (s *MemoryStore) Close() error {
	return nil
}
