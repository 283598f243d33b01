// Package events carries run lifecycle notifications to interested
// observers. Delivery is fire-and-forget: a slow, failing, or panicking
// sink never blocks or fails the pipeline.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

// Type enumerates the lifecycle notifications.
type Type string

const (
	TypeStepStarted          Type = "step_started"
	TypeStepCompleted        Type = "step_completed"
	TypeStepFailed           Type = "step_failed"
	TypeStateChanged         Type = "state_changed"
	TypeApprovalRequired     Type = "approval_required"
	TypeConfirmationRequired Type = "confirmation_required"
)

// Event is one lifecycle notification.
type Event struct {
	ID     string         `json:"id"`
	Type   Type           `json:"type"`
	RunID  string         `json:"run_id"`
	Step   string         `json:"step,omitempty"`
	From   run.State      `json:"from,omitempty"`
	To     run.State      `json:"to,omitempty"`
	Reason string         `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink receives events. Implementations must tolerate concurrent calls.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout dispatches each event to every registered sink, recovering
// panics. Sinks must return promptly; ChanSink drops rather than blocks.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	clock  func() time.Time
}

// NewFanout builds an empty fanout.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: slog.Default().With("component", "events"),
		clock:  time.Now,
	}
}

// Register adds a sink.
func (f *Fanout) Register(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Publish stamps identity and time, then dispatches. Safe on a nil Fanout
// so callers need no nil checks.
func (f *Fanout) Publish(ctx context.Context, ev Event) {
	if f == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = f.clock().UTC()
	}

	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		f.deliver(ctx, s, ev)
	}
}

func (f *Fanout) deliver(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "event sink panicked",
				"event_type", ev.Type, "run_id", ev.RunID, "panic", r)
		}
	}()
	s.Publish(ctx, ev)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink logs through l, or the default logger when nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{logger: l.With("component", "events")}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) {
	s.logger.InfoContext(ctx, "run event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"run_id", ev.RunID,
		"step", ev.Step,
		"from", ev.From,
		"to", ev.To,
		"reason", ev.Reason,
	)
}

// ChanSink buffers events for tests and the CLI. When the buffer is full
// the oldest event is dropped; publishers never block.
type ChanSink struct {
	mu sync.Mutex
	ch chan Event
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 64
	}
	return &ChanSink{ch: make(chan Event, size)}
}

// Events exposes the receive side.
func (s *ChanSink) Events() <-chan Event { return s.ch }

func (s *ChanSink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
