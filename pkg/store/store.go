// Package store persists runs. The memory store backs tests and the lite
// deployment; the SQL store runs against Postgres or SQLite.
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

var (
	// ErrNotFound is returned when no run exists under the requested ID.
	ErrNotFound = errors.New("run not found")
	// ErrExists is returned by Create when the run ID is already taken.
	ErrExists = errors.New("run already exists")
)

// ListFilter narrows List results. Zero value means no filtering.
type ListFilter struct {
	States []run.State
	Limit  int
}

func (f ListFilter) matchesState(s run.State) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, want := range f.States {
		if s == want {
			return true
		}
	}
	return false
}

// RunStore is the persistence boundary for runs. Implementations return
// deep copies; mutating a returned run does not change stored state until
// Update is called.
type RunStore interface {
	Create(ctx context.Context, r *run.Run) error
	Get(ctx context.Context, id string) (*run.Run, error)
	Update(ctx context.Context, r *run.Run) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*run.Run, error)
}
