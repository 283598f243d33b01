package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/events"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

func newWatchdogHarness(t *testing.T, approvalTTL, confirmTTL time.Duration) (*harness, *Watchdog) {
	t.Helper()

	var bus *events.Fanout
	h := newHarness(t, Config{}, func(d *Deps) { bus = d.Bus })

	wd := NewWatchdog(h.seq, approvalTTL, confirmTTL, nil)
	t.Cleanup(wd.Stop)
	bus.Register(wd)
	return h, wd
}

func TestWatchdogExpiresApprovalGate(t *testing.T) {
	h, wd := newWatchdogHarness(t, 40*time.Millisecond, 40*time.Millisecond)
	ctx := context.Background()

	_, err := h.seq.Run(ctx, RunRequest{RunID: "run-1", PRD: []byte(testPRD)})
	require.NoError(t, err)
	require.Equal(t, 1, wd.Pending())

	require.Eventually(t, func() bool {
		r, err := h.runs.Get(ctx, "run-1")
		return err == nil && r.State == run.StateFailed
	}, time.Second, 5*time.Millisecond)

	r, err := h.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	last := r.Decisions[len(r.Decisions)-1]
	require.Equal(t, run.EventTimeout, last.Event)
	require.Equal(t, "watchdog", last.Meta["source"])
	require.Equal(t, 0, wd.Pending())
}

func TestWatchdogRearmsWhenRejectionLoopsBack(t *testing.T) {
	h, wd := newWatchdogHarness(t, 60*time.Millisecond, 60*time.Millisecond)
	ctx := context.Background()

	_, err := h.seq.Run(ctx, RunRequest{RunID: "run-1", PRD: []byte(testPRD)})
	require.NoError(t, err)

	r, err := h.seq.Decide(ctx, "run-1", Decision{Kind: DecisionApproval, Accepted: false, Actor: "qa-lead"})
	require.NoError(t, err)
	require.Equal(t, run.StateAwaitingApproval, r.State)
	require.Equal(t, 1, wd.Pending())

	// The regenerated gate is on a fresh timer and still expires.
	require.Eventually(t, func() bool {
		r, err := h.runs.Get(ctx, "run-1")
		return err == nil && r.State == run.StateFailed
	}, time.Second, 5*time.Millisecond)
}

func TestWatchdogDisarmsResolvedGates(t *testing.T) {
	h, wd := newWatchdogHarness(t, 150*time.Millisecond, 150*time.Millisecond)
	ctx := context.Background()

	_, err := h.seq.Run(ctx, RunRequest{RunID: "run-1", PRD: []byte(testPRD)})
	require.NoError(t, err)
	require.Equal(t, 1, wd.Pending())

	r, err := h.seq.Decide(ctx, "run-1", Decision{Kind: DecisionApproval, Accepted: true, Actor: "qa-lead"})
	require.NoError(t, err)
	require.Equal(t, run.StateReportReady, r.State)
	require.Equal(t, 1, wd.Pending(), "confirmation gate armed after approval")

	r, err = h.seq.Decide(ctx, "run-1", Decision{Kind: DecisionConfirmation, Accepted: true, Actor: "release-mgr"})
	require.NoError(t, err)
	require.Equal(t, run.StateCompleted, r.State)
	require.Equal(t, 0, wd.Pending())

	time.Sleep(200 * time.Millisecond)
	r, err = h.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StateCompleted, r.State)
}

func TestWatchdogZeroTTLLeavesGateUnwatched(t *testing.T) {
	h, wd := newWatchdogHarness(t, 0, 0)
	ctx := context.Background()

	_, err := h.seq.Run(ctx, RunRequest{RunID: "run-1", PRD: []byte(testPRD)})
	require.NoError(t, err)
	require.Equal(t, 0, wd.Pending())

	time.Sleep(60 * time.Millisecond)
	r, err := h.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StateAwaitingApproval, r.State)
}

func TestWatchdogStopCancelsTimers(t *testing.T) {
	h, wd := newWatchdogHarness(t, 50*time.Millisecond, 50*time.Millisecond)
	ctx := context.Background()

	_, err := h.seq.Run(ctx, RunRequest{RunID: "run-1", PRD: []byte(testPRD)})
	require.NoError(t, err)
	require.Equal(t, 1, wd.Pending())

	wd.Stop()
	require.Equal(t, 0, wd.Pending())

	time.Sleep(100 * time.Millisecond)
	r, err := h.runs.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.StateAwaitingApproval, r.State)
}
