package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileStore keeps each run's artifacts in its own directory under root.
type FileStore struct {
	root string
}

// NewFileStore creates the store root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure workspace root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *FileStore) Root() string { return s.root }

// RunDir returns the directory holding one run's artifacts.
func (s *FileStore) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *FileStore) EnsureRun(_ context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.RunDir(runID), 0o700); err != nil {
		return fmt.Errorf("ensure run workspace: %w", err)
	}
	return nil
}

// Put writes to a temp file in the run directory, then renames. Readers
// never observe a half-written artifact.
func (s *FileStore) Put(ctx context.Context, runID, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.EnsureRun(ctx, runID); err != nil {
		return err
	}

	path := filepath.Join(s.RunDir(runID), name)
	tmp, err := os.CreateTemp(s.RunDir(runID), name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit artifact %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, runID, name string) ([]byte, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotExist, runID, name)
		}
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, runID, name string) (bool, error) {
	if err := validRunID(runID); err != nil {
		return false, err
	}
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.RunDir(runID), name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact %s: %w", name, err)
}

func (s *FileStore) List(_ context.Context, runID string) ([]string, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.RunDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list run workspace: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
