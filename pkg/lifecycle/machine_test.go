package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

var testClock = func() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestMachine() *Machine {
	return NewMachine(WithClock(testClock))
}

// Every (state, event) pair: table pairs succeed then no-op on repeat,
// terminal states reject everything, remaining pairs are invalid.
func TestTransitionExhaustive(t *testing.T) {
	ctx := context.Background()
	for _, from := range run.AllStates() {
		for _, ev := range run.AllEvents() {
			m := newTestMachine()
			req := Request{RunID: "run-1", From: from, Event: ev, ShardID: "s1"}
			res, err := m.Transition(ctx, req)

			switch {
			case from.Terminal():
				require.ErrorIs(t, err, ErrTerminalState, "%s/%s", from, ev)
				require.Contains(t, err.Error(), "terminal state")
				require.Equal(t, from, res.State)

			case ValidTransition(from, ev):
				require.NoError(t, err, "%s/%s", from, ev)
				want, _ := Target(from, ev)
				require.Equal(t, want, res.State)
				require.False(t, res.NoOp)
				require.NotNil(t, res.Entry)
				require.Equal(t, from, res.Entry.From)
				require.Equal(t, want, res.Entry.To)
				require.Equal(t, ev, res.Entry.Event)
				require.Equal(t, testClock(), res.Entry.At)

				// Redelivery of the exact tuple is suppressed.
				dup, err := m.Transition(ctx, req)
				require.NoError(t, err)
				require.True(t, dup.NoOp)
				require.Equal(t, want, dup.State)
				require.Nil(t, dup.Entry)

			default:
				require.ErrorIs(t, err, ErrInvalidTransition, "%s/%s", from, ev)
				require.Equal(t, from, res.State)
			}
		}
	}
}

func TestTransitionRejectionsRecordNoKeys(t *testing.T) {
	ks := NewMemoryKeyStore(0)
	m := NewMachine(WithClock(testClock), WithKeyStore(ks))
	ctx := context.Background()

	_, err := m.Transition(ctx, Request{RunID: "r", From: run.StateCompleted, Event: run.EventError})
	require.ErrorIs(t, err, ErrTerminalState)
	_, err = m.Transition(ctx, Request{RunID: "r", From: run.StateCreated, Event: run.EventConfirmed})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, 0, ks.Len())
}

func TestDuplicateScopePerRun(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	req := func(id string) Request {
		return Request{RunID: id, From: run.StateCreated, Event: run.EventStartParsing}
	}

	first, err := m.Transition(ctx, req("run-a"))
	require.NoError(t, err)
	require.False(t, first.NoOp)
	_, err = m.Transition(ctx, req("run-b"))
	require.NoError(t, err)

	// Clearing run-a must not disturb run-b's dedupe behavior.
	require.NoError(t, m.Keys().ClearRun(ctx, "run-a"))

	again, err := m.Transition(ctx, req("run-a"))
	require.NoError(t, err)
	require.False(t, again.NoOp, "cleared run records fresh entries")

	dup, err := m.Transition(ctx, req("run-b"))
	require.NoError(t, err)
	require.True(t, dup.NoOp, "unrelated clear must keep suppressing run-b")
}

func TestShardedTuplesAreDistinct(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	a, err := m.Transition(ctx, Request{RunID: "r", From: run.StateCreated, Event: run.EventStartParsing, ShardID: "shard-1"})
	require.NoError(t, err)
	require.False(t, a.NoOp)

	b, err := m.Transition(ctx, Request{RunID: "r", From: run.StateCreated, Event: run.EventStartParsing, ShardID: "shard-2"})
	require.NoError(t, err)
	require.False(t, b.NoOp)
}

func TestTimeoutReasonByGate(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	res, err := m.Transition(ctx, Request{RunID: "r1", From: run.StateAwaitingApproval, Event: run.EventTimeout})
	require.NoError(t, err)
	require.Equal(t, run.StateFailed, res.State)
	require.Equal(t, run.ReasonApprovalTimeout, res.FailureReason)

	res, err = m.Transition(ctx, Request{RunID: "r2", From: run.StateReportReady, Event: run.EventTimeout})
	require.NoError(t, err)
	require.Equal(t, run.ReasonConfirmTimeout, res.FailureReason)
}

func TestErrorReasonByTag(t *testing.T) {
	tests := []struct {
		tag  string
		want run.ReasonCode
	}{
		{run.TagPlaywright, run.ReasonPlaywrightError},
		{run.TagVerdictConflict, run.ReasonVerdictConflict},
		{run.TagRetryExhausted, run.ReasonRetryExhausted},
		{run.TagAgentTimeout, run.ReasonAgentTimeout},
		{"disk full", run.ReasonInternalError},
		{"", run.ReasonInternalError},
	}

	ctx := context.Background()
	for _, tt := range tests {
		m := newTestMachine()
		res, err := m.Transition(ctx, Request{
			RunID: "r", From: run.StateExecuting, Event: run.EventError, Reason: tt.tag,
		})
		require.NoError(t, err, tt.tag)
		require.Equal(t, run.StateFailed, res.State)
		require.Equal(t, tt.want, res.FailureReason, "tag %q", tt.tag)
	}
}

func TestKeyRendering(t *testing.T) {
	k := Key("run-1", run.StateCreated, run.StateParsing, run.EventStartParsing, "s1")
	require.Equal(t, "run-1|created|parsing|START_PARSING|s1", k)
}

func TestKeyStoreErrorSurfaces(t *testing.T) {
	m := NewMachine(WithKeyStore(failingKeyStore{}), WithClock(testClock))
	_, err := m.Transition(context.Background(), Request{
		RunID: "r", From: run.StateCreated, Event: run.EventStartParsing,
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidTransition)
}

type failingKeyStore struct{}

func (failingKeyStore) Record(context.Context, string, string) (bool, error) {
	return false, errors.New("backend down")
}

func (failingKeyStore) ClearRun(context.Context, string) error { return nil }
