package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	r := run.New("run-1", "s1", now)
	require.NoError(t, s.Create(ctx, r))
	require.ErrorIs(t, s.Create(ctx, r), ErrExists)

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", got.ID)
	require.Equal(t, run.StateCreated, got.State)

	got.State = run.StateParsing
	got.SetArtifact("run-manifest.json", "runs/run-1/run-manifest.json")
	require.NoError(t, s.Update(ctx, got))

	again, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StateParsing, again.State)
	require.Contains(t, again.Artifacts, "run-manifest.json")

	require.NoError(t, s.Delete(ctx, "run-1"))
	_, err = s.Get(ctx, "run-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "run-1"), ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, r), ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := run.New("run-1", "", time.Now())
	require.NoError(t, s.Create(ctx, r))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	got.State = run.StateFailed
	got.SetArtifact("report.json", "somewhere")

	fresh, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StateCreated, fresh.State)
	require.Empty(t, fresh.Artifacts)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		r := run.New(id, "", base.Add(time.Duration(i)*time.Minute))
		if id == "run-b" {
			r.State = run.StateExecuting
		}
		require.NoError(t, s.Create(ctx, r))
	}

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "run-c", all[0].ID)
	require.Equal(t, "run-a", all[2].ID)

	executing, err := s.List(ctx, ListFilter{States: []run.State{run.StateExecuting}})
	require.NoError(t, err)
	require.Len(t, executing, 1)
	require.Equal(t, "run-b", executing[0].ID)

	limited, err := s.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "run-c", limited[0].ID)
}
