// Package workspace stores run-scoped artifacts by name. The workspace is
// the pipeline's checkpoint: a step is complete exactly when every artifact
// it produces exists here, so resumption never depends on in-memory state.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotExist is returned when a named artifact is absent.
var ErrNotExist = errors.New("artifact does not exist")

// Store is the contract for run-scoped artifact storage. Writes replace
// atomically; the core never deletes artifacts.
type Store interface {
	// EnsureRun prepares storage for a run, idempotently.
	EnsureRun(ctx context.Context, runID string) error
	// Put writes an artifact, replacing any previous version.
	Put(ctx context.Context, runID, name string, data []byte) error
	// Get reads an artifact. Absent artifacts yield ErrNotExist.
	Get(ctx context.Context, runID, name string) ([]byte, error)
	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, runID, name string) (bool, error)
	// List returns the artifact names of a run, sorted.
	List(ctx context.Context, runID string) ([]string, error)
}

// validName rejects names that could escape the run scope.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

func validRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, "/\\") {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
