package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore holds artifacts in process memory. Tests and the CLI's dry
// mode use it; nothing survives the process.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) EnsureRun(_ context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		s.runs[runID] = make(map[string][]byte)
	}
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, runID, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.EnsureRun(ctx, runID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.runs[runID][name] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID, name string) ([]byte, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.runs[runID][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotExist, runID, name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Exists(_ context.Context, runID, name string) (bool, error) {
	if err := validRunID(runID); err != nil {
		return false, err
	}
	if err := validName(name); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[runID][name]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]string, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.runs[runID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
