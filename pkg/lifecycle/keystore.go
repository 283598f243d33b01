package lifecycle

import (
	"context"
	"sync"
	"time"
)

// KeyStore is the idempotency key set behind the duplicate-transition
// guard. Record is an atomic check-and-set: it returns true exactly once
// per key. Implementations must be safe for concurrent use; transitions of
// many runs are recorded from parallel goroutines.
//
// The default implementation is process-local and in-memory: it does not
// survive a restart, so at-most-once transition delivery holds only within
// one process lifetime. Deployments needing a wider window substitute the
// Redis or SQL backed store.
type KeyStore interface {
	Record(ctx context.Context, runID, key string) (first bool, err error)
	ClearRun(ctx context.Context, runID string) error
}

// MemoryKeyStore is the in-process KeyStore. Keys are grouped per run so
// clearing one run never touches another.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]time.Time
	ttl  time.Duration
}

// NewMemoryKeyStore creates the in-process store. A ttl of zero keeps keys
// for the process lifetime; otherwise a background sweep drops entries
// older than ttl.
func NewMemoryKeyStore(ttl time.Duration) *MemoryKeyStore {
	s := &MemoryKeyStore{
		runs: make(map[string]map[string]time.Time),
		ttl:  ttl,
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

func (s *MemoryKeyStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for runID, keys := range s.runs {
			for k, at := range keys {
				if now.Sub(at) > s.ttl {
					delete(keys, k)
				}
			}
			if len(keys) == 0 {
				delete(s.runs, runID)
			}
		}
		s.mu.Unlock()
	}
}

// Record registers the key, reporting whether it was seen for the first
// time.
func (s *MemoryKeyStore) Record(_ context.Context, runID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.runs[runID]
	if !ok {
		keys = make(map[string]time.Time)
		s.runs[runID] = keys
	}
	if _, seen := keys[key]; seen {
		return false, nil
	}
	keys[key] = time.Now()
	return true, nil
}

// ClearRun drops every key recorded for runID.
func (s *MemoryKeyStore) ClearRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// Len reports the total number of recorded keys.
func (s *MemoryKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, keys := range s.runs {
		n += len(keys)
	}
	return n
}
