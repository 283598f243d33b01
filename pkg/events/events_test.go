package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/run"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Publish(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

type panicSink struct{}

func (panicSink) Publish(context.Context, Event) { panic("sink exploded") }

func TestFanoutStampsIdentityAndTime(t *testing.T) {
	cap1 := &captureSink{}
	f := NewFanout(cap1)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.clock = func() time.Time { return fixed }

	f.Publish(context.Background(), Event{
		Type:  TypeStateChanged,
		RunID: "run-1",
		From:  run.StateCreated,
		To:    run.StateParsing,
	})

	got := cap1.all()
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].ID)
	require.Equal(t, fixed, got[0].At)
	require.Equal(t, TypeStateChanged, got[0].Type)
	require.Equal(t, run.StateCreated, got[0].From)
	require.Equal(t, run.StateParsing, got[0].To)
}

func TestFanoutPreservesCallerStamp(t *testing.T) {
	cap1 := &captureSink{}
	f := NewFanout(cap1)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	f.Publish(context.Background(), Event{ID: "ev-7", Type: TypeStepStarted, RunID: "run-1", At: at})

	got := cap1.all()
	require.Len(t, got, 1)
	require.Equal(t, "ev-7", got[0].ID)
	require.Equal(t, at, got[0].At)
}

func TestFanoutSurvivesPanickingSink(t *testing.T) {
	cap1 := &captureSink{}
	f := NewFanout(panicSink{}, cap1)

	require.NotPanics(t, func() {
		f.Publish(context.Background(), Event{Type: TypeStepFailed, RunID: "run-1"})
	})
	require.Len(t, cap1.all(), 1)
}

func TestFanoutRegister(t *testing.T) {
	f := NewFanout()
	cap1 := &captureSink{}
	f.Register(cap1)

	f.Publish(context.Background(), Event{Type: TypeApprovalRequired, RunID: "run-1"})
	require.Len(t, cap1.all(), 1)
}

func TestNilFanoutPublishes(t *testing.T) {
	var f *Fanout
	require.NotPanics(t, func() {
		f.Publish(context.Background(), Event{Type: TypeStepCompleted, RunID: "run-1"})
	})
}

func TestChanSinkDropsOldestWhenFull(t *testing.T) {
	s := NewChanSink(2)
	ctx := context.Background()

	s.Publish(ctx, Event{ID: "a"})
	s.Publish(ctx, Event{ID: "b"})
	s.Publish(ctx, Event{ID: "c"})

	first := <-s.Events()
	second := <-s.Events()
	require.Equal(t, "b", first.ID)
	require.Equal(t, "c", second.ID)
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected extra event %q", ev.ID)
	default:
	}
}

func TestChanSinkNeverBlocks(t *testing.T) {
	s := NewChanSink(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Publish(context.Background(), Event{Type: TypeStepStarted})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on full channel")
	}
}

func TestLogSinkNilLogger(t *testing.T) {
	s := NewLogSink(nil)
	require.NotPanics(t, func() {
		s.Publish(context.Background(), Event{Type: TypeConfirmationRequired, RunID: "run-1"})
	})
}
