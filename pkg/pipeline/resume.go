package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/run"
	"github.com/Mindburn-Labs/attest/pkg/store"
)

// Resume failure classes. The HTTP layer maps these to status codes.
var (
	// ErrRunNotFound reports an unknown run ID.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive rejects resuming a run whose pipeline is in flight.
	ErrRunActive = errors.New("run is already in flight")
	// ErrStepPrereq rejects a resume point whose prerequisite artifacts
	// are missing from the workspace.
	ErrStepPrereq = errors.New("missing prerequisite artifacts")
)

func (s *Sequencer) loadRun(ctx context.Context, runID string) (*run.Run, error) {
	r, err := s.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return r, nil
}

// stepComplete reports whether every artifact the step produces exists in
// the run's workspace.
func (s *Sequencer) stepComplete(ctx context.Context, runID string, step Step) (bool, error) {
	for _, name := range step.Produces() {
		ok, err := s.ws.Exists(ctx, runID, name)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ResumableSteps returns the steps that still need to run, in pipeline
// order: everything after the last step whose artifacts are complete with
// all of its predecessors complete. Nil means every step has finished.
func (s *Sequencer) ResumableSteps(ctx context.Context, runID string) ([]Step, error) {
	if _, err := s.loadRun(ctx, runID); err != nil {
		return nil, err
	}

	steps := AllSteps()
	for i, step := range steps {
		done, err := s.stepComplete(ctx, runID, step)
		if err != nil {
			return nil, err
		}
		if !done {
			return steps[i:], nil
		}
	}
	return nil, nil
}

// Resume re-enters the pipeline at from, reusing the artifacts earlier
// steps already produced. Unknown runs, runs whose pipeline is in flight
// (executing, codex_reviewing), terminal runs, and resume points whose
// prerequisites are missing are refused with distinct error classes.
func (s *Sequencer) Resume(ctx context.Context, runID string, from Step) (*run.Run, error) {
	r, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if r.State == run.StateExecuting || r.State == run.StateCodexReviewing {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunActive, runID, r.State)
	}
	if r.State.Terminal() {
		return nil, fmt.Errorf("%w: run %s is %s", lifecycle.ErrTerminalState, runID, r.State)
	}
	if !from.Valid() {
		return nil, fmt.Errorf("unknown pipeline step %q", from)
	}

	resumable, err := s.ResumableSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(resumable) == 0 || from.index() < resumable[0].index() {
		return nil, fmt.Errorf("%w: step %s already completed for run %s", ErrStepPrereq, from, runID)
	}

	var missing []string
	for _, step := range AllSteps()[:from.index()] {
		for _, name := range step.Produces() {
			ok, err := s.ws.Exists(ctx, runID, name)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", name, err)
			}
			if !ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: resume from %s requires %s", ErrStepPrereq, from, strings.Join(missing, ", "))
	}

	s.logger.InfoContext(ctx, "resuming run", "run_id", runID, "from", from, "state", r.State)
	if err := s.driveFrom(ctx, r, from, nil); err != nil {
		return r, err
	}
	return r, nil
}
