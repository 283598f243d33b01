// Package run defines the domain model for an Attest test run: lifecycle
// states, transition events, failure reason codes, and the per-run decision
// log that records every accepted transition.
package run

import (
	"time"

	"github.com/Mindburn-Labs/attest/pkg/gate"
)

// State is the lifecycle state of a run.
type State string

const (
	StateCreated          State = "created"
	StateParsing          State = "parsing"
	StateGenerating       State = "generating"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecuting        State = "executing"
	StateCodexReviewing   State = "codex_reviewing"
	StateReportReady      State = "report_ready"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateParsing, StateGenerating, StateAwaitingApproval,
		StateExecuting, StateCodexReviewing, StateReportReady,
		StateCompleted, StateFailed:
		return true
	}
	return false
}

// AllStates returns every lifecycle state in flow order.
func AllStates() []State {
	return []State{
		StateCreated,
		StateParsing,
		StateGenerating,
		StateAwaitingApproval,
		StateExecuting,
		StateCodexReviewing,
		StateReportReady,
		StateCompleted,
		StateFailed,
	}
}

// Event is a transition trigger. Events originate from the pipeline
// sequencer, the approval and confirmation gates, or the timeout watchdog.
type Event string

const (
	EventStartParsing       Event = "START_PARSING"
	EventParsingComplete    Event = "PARSING_COMPLETE"
	EventGenerationComplete Event = "GENERATION_COMPLETE"
	EventApproved           Event = "APPROVED"
	EventRejected           Event = "REJECTED"
	EventExecutionComplete  Event = "EXECUTION_COMPLETE"
	EventReviewComplete     Event = "REVIEW_COMPLETE"
	EventConfirmed          Event = "CONFIRMED"
	EventRetest             Event = "RETEST"
	EventError              Event = "ERROR"
	EventTimeout            Event = "TIMEOUT"
)

// AllEvents returns every transition event.
func AllEvents() []Event {
	return []Event{
		EventStartParsing,
		EventParsingComplete,
		EventGenerationComplete,
		EventApproved,
		EventRejected,
		EventExecutionComplete,
		EventReviewComplete,
		EventConfirmed,
		EventRetest,
		EventError,
		EventTimeout,
	}
}

// Decision is one accepted transition in a run's audit trail. Decisions are
// append-only; duplicates suppressed by the idempotency guard consume no Seq.
type Decision struct {
	Seq    int            `json:"seq"`
	From   State          `json:"from"`
	To     State          `json:"to"`
	Event  Event          `json:"event"`
	Reason string         `json:"reason,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	At     time.Time      `json:"at"`
}

// Run is the orchestration aggregate. The pipeline sequencer owns it; gates
// and the timeout watchdog act on it only through the state machine.
type Run struct {
	ID          string            `json:"id"`
	State       State             `json:"state"`
	Reason      ReasonCode        `json:"reason,omitempty"`
	ShardID     string            `json:"shard_id,omitempty"`
	Workspace   string            `json:"workspace,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Decisions   []Decision        `json:"decisions,omitempty"`
	Gate        *gate.Result      `json:"gate,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// New returns a run in the created state.
func New(id, shardID string, now time.Time) *Run {
	return &Run{
		ID:        id,
		State:     StateCreated,
		ShardID:   shardID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Record appends a decision and moves the run to the decision's target
// state. Seq is assigned here, 1-based per run.
func (r *Run) Record(d Decision) Decision {
	d.Seq = len(r.Decisions) + 1
	r.Decisions = append(r.Decisions, d)
	r.State = d.To
	r.UpdatedAt = d.At
	return d
}

// SetArtifact records the locator of a named artifact produced by a step.
func (r *Run) SetArtifact(name, locator string) {
	if r.Artifacts == nil {
		r.Artifacts = make(map[string]string)
	}
	r.Artifacts[name] = locator
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared state behind the store's back.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(r.Artifacts))
		for k, v := range r.Artifacts {
			out.Artifacts[k] = v
		}
	}
	if r.Labels != nil {
		out.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	if r.Decisions != nil {
		out.Decisions = make([]Decision, len(r.Decisions))
		copy(out.Decisions, r.Decisions)
		for i, d := range r.Decisions {
			if d.Meta != nil {
				meta := make(map[string]any, len(d.Meta))
				for k, v := range d.Meta {
					meta[k] = v
				}
				out.Decisions[i].Meta = meta
			}
		}
	}
	if r.Gate != nil {
		g := *r.Gate
		g.BlockReasons = append([]string(nil), r.Gate.BlockReasons...)
		g.Warnings = append([]string(nil), r.Gate.Warnings...)
		g.Metrics.MissingP0 = append([]string(nil), r.Gate.Metrics.MissingP0...)
		if r.Gate.Metrics.FR != nil {
			fr := *r.Gate.Metrics.FR
			g.Metrics.FR = &fr
		}
		out.Gate = &g
	}
	return &out
}
