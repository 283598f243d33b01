package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/events"
	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

// Watchdog expires stalled human gates. Registered on the event bus, it
// arms a timer whenever a run pauses at a gate and disarms it when the
// run moves on. An expired timer fires the run's TIMEOUT event through
// the sequencer, which fails the run.
//
// A TTL of zero (or less) leaves that gate unwatched.
type Watchdog struct {
	seq    *Sequencer
	logger *slog.Logger

	approvalTTL time.Duration
	confirmTTL  time.Duration

	mu       sync.Mutex
	watchers map[string]*gateWatcher
	stopped  bool
}

type gateWatcher struct {
	cancel context.CancelFunc
}

// NewWatchdog builds a watchdog over the sequencer's gates.
func NewWatchdog(seq *Sequencer, approvalTTL, confirmTTL time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		seq:         seq,
		logger:      logger.With("component", "watchdog"),
		approvalTTL: approvalTTL,
		confirmTTL:  confirmTTL,
		watchers:    make(map[string]*gateWatcher),
	}
}

// Publish implements events.Sink.
func (w *Watchdog) Publish(_ context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeApprovalRequired:
		w.arm(ev.RunID, w.approvalTTL)
	case events.TypeConfirmationRequired:
		w.arm(ev.RunID, w.confirmTTL)
	case events.TypeStateChanged:
		if ev.To != run.StateAwaitingApproval && ev.To != run.StateReportReady {
			w.disarm(ev.RunID)
		}
	}
}

// Pending reports how many gates are currently armed.
func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watchers)
}

// Stop cancels every armed gate. A stopped watchdog arms nothing.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for id, gw := range w.watchers {
		gw.cancel()
		delete(w.watchers, id)
	}
}

func (w *Watchdog) arm(runID string, ttl time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if prev, ok := w.watchers[runID]; ok {
		prev.cancel()
		delete(w.watchers, runID)
	}
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw := &gateWatcher{cancel: cancel}
	w.watchers[runID] = gw
	go w.watchExpiry(ctx, gw, runID, ttl)
}

func (w *Watchdog) disarm(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gw, ok := w.watchers[runID]; ok {
		gw.cancel()
		delete(w.watchers, runID)
	}
}

func (w *Watchdog) watchExpiry(ctx context.Context, gw *gateWatcher, runID string, ttl time.Duration) {
	timer := time.NewTimer(ttl)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	w.mu.Lock()
	if w.watchers[runID] != gw {
		// Disarmed or re-armed while the timer was firing.
		w.mu.Unlock()
		return
	}
	delete(w.watchers, runID)
	w.mu.Unlock()

	_, err := w.seq.Timeout(context.Background(), runID)
	switch {
	case err == nil:
		w.logger.Warn("gate expired", "run_id", runID, "ttl", ttl)
	case errors.Is(err, ErrRunNotFound),
		errors.Is(err, lifecycle.ErrTerminalState),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		// The gate was resolved before the expiry landed.
	default:
		w.logger.Error("gate expiry failed", "run_id", runID, "error", err)
	}
}
