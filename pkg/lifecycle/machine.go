package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

// Sentinel errors for transition rejection. Callers classify with errors.Is.
var (
	// ErrTerminalState rejects any event against completed or failed.
	ErrTerminalState = fmt.Errorf("cannot transition from terminal state")
	// ErrInvalidTransition rejects (state, event) pairs the table does not
	// contain.
	ErrInvalidTransition = fmt.Errorf("invalid transition")
)

// Request asks the machine to apply one event. From is the caller's view of
// the run's current state; the machine trusts it, so callers must read it
// from their authoritative run record.
type Request struct {
	RunID   string
	From    run.State
	Event   run.Event
	ShardID string
	// Reason is free text for the decision log. For ERROR events it is the
	// context tag that resolves the failure reason code.
	Reason string
	Meta   map[string]any
}

// Result is the outcome of an accepted transition. On a suppressed
// duplicate, NoOp is true, State still names the target, and Entry is nil.
type Result struct {
	State run.State
	NoOp  bool
	// FailureReason is set when State is failed.
	FailureReason run.ReasonCode
	// Entry is the decision to append to the run's log, without Seq.
	Entry *run.Decision
}

// Machine validates transitions against the table and suppresses duplicate
// deliveries. It holds no run state; the key set is the only mutable
// collaborator and is injectable.
type Machine struct {
	keys   KeyStore
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithKeyStore replaces the in-process key set, e.g. with the Redis or SQL
// backed implementation.
func WithKeyStore(ks KeyStore) Option {
	return func(m *Machine) { m.keys = ks }
}

// WithClock fixes the decision timestamp source. Tests use this for
// deterministic logs.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine builds a machine with an in-process key set and wall clock.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		keys:   NewMemoryKeyStore(0),
		clock:  time.Now,
		logger: slog.Default().With("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keys exposes the key set so owners can clear a run's dedupe scope.
func (m *Machine) Keys() KeyStore { return m.keys }

// Key renders the dedupe key for one transition tuple. Keys are scoped per
// run; tuples of different runs never collide.
func Key(runID string, from, to run.State, event run.Event, shardID string) string {
	return strings.Join([]string{runID, string(from), string(to), string(event), shardID}, "|")
}

// Transition applies one event. Validation order: terminal guard, table
// lookup, duplicate suppression, then decision construction. Rejections
// leave the key set untouched and produce no decision entry.
func (m *Machine) Transition(ctx context.Context, req Request) (Result, error) {
	if req.From.Terminal() {
		return Result{State: req.From}, fmt.Errorf("%w %q (run %s, event %s)",
			ErrTerminalState, req.From, req.RunID, req.Event)
	}

	to, ok := Target(req.From, req.Event)
	if !ok {
		return Result{State: req.From}, fmt.Errorf("%w: %q does not accept %s (run %s)",
			ErrInvalidTransition, req.From, req.Event, req.RunID)
	}

	first, err := m.keys.Record(ctx, req.RunID, Key(req.RunID, req.From, to, req.Event, req.ShardID))
	if err != nil {
		return Result{State: req.From}, fmt.Errorf("record idempotency key: %w", err)
	}

	res := Result{State: to}
	if to == run.StateFailed {
		res.FailureReason = m.failureReason(req)
	}
	if !first {
		res.NoOp = true
		m.logger.InfoContext(ctx, "duplicate transition suppressed",
			"run_id", req.RunID, "from", req.From, "event", req.Event)
		return res, nil
	}

	res.Entry = &run.Decision{
		From:   req.From,
		To:     to,
		Event:  req.Event,
		Reason: req.Reason,
		Meta:   req.Meta,
		At:     m.clock().UTC(),
	}
	m.logger.InfoContext(ctx, "transition applied",
		"run_id", req.RunID, "from", req.From, "to", to, "event", req.Event)
	return res, nil
}

func (m *Machine) failureReason(req Request) run.ReasonCode {
	switch req.Event {
	case run.EventTimeout:
		return run.TimeoutReason(req.From)
	case run.EventError:
		return run.ErrorReason(req.Reason)
	default:
		return run.ReasonInternalError
	}
}
