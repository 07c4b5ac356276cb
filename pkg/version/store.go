package version

import "sync"

// Notifier is told about every bump, synchronously, so the push hub can
// broadcast a data-update event for the key. The key passed is the
// server-side name.
type Notifier interface {
	NotifyBump(key string)
}

// Store holds a monotonically increasing counter per entity-group key.
//
// The counters live in memory only. On process restart they reset to a
// fresh baseline; clients detect the resulting version rollback and treat
// every rolled-back key as changed, so no staleness survives a restart.
type Store struct {
	mu       sync.RWMutex
	counters Snapshot

	notifier Notifier
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{counters: make(Snapshot)}
}

// SetNotifier registers the bump notifier. Must be called before the store
// is shared between goroutines; typically right after construction.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// Bump increments the counter for key, creating it at 1 if absent, and
// returns the new value. It is called synchronously from every mutating
// operation that touches the group; a skipped bump is a silent-staleness
// bug, so there is deliberately no batching or deduplication here.
func (s *Store) Bump(key string) int64 {
	s.mu.Lock()
	s.counters[key]++
	v := s.counters[key]
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.NotifyBump(key)
	}
	return v
}

// Snapshot returns a copy of the full key-to-version map. It is called on
// every client reconciliation cycle, so it stays a plain map copy under a
// read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.Clone()
}
