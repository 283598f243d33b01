// Package lifecycle implements the run state machine: a static transition
// table, pure table queries, and a transition guard that suppresses
// duplicate deliveries through an injectable idempotency key set.
package lifecycle

import "github.com/Mindburn-Labs/attest/pkg/run"

// Rule is one edge of the transition graph.
type Rule struct {
	From  run.State
	Event run.Event
	To    run.State
}

// rules is the complete transition graph. completed and failed have no
// outgoing edges; everything not listed here is invalid.
var rules = []Rule{
	{run.StateCreated, run.EventStartParsing, run.StateParsing},
	{run.StateParsing, run.EventParsingComplete, run.StateGenerating},
	{run.StateGenerating, run.EventGenerationComplete, run.StateAwaitingApproval},
	{run.StateAwaitingApproval, run.EventApproved, run.StateExecuting},
	{run.StateAwaitingApproval, run.EventRejected, run.StateGenerating},
	{run.StateExecuting, run.EventExecutionComplete, run.StateCodexReviewing},
	{run.StateCodexReviewing, run.EventReviewComplete, run.StateReportReady},
	{run.StateReportReady, run.EventConfirmed, run.StateCompleted},
	{run.StateReportReady, run.EventRetest, run.StateCreated},

	{run.StateParsing, run.EventError, run.StateFailed},
	{run.StateGenerating, run.EventError, run.StateFailed},
	{run.StateExecuting, run.EventError, run.StateFailed},
	{run.StateCodexReviewing, run.EventError, run.StateFailed},

	{run.StateAwaitingApproval, run.EventTimeout, run.StateFailed},
	{run.StateReportReady, run.EventTimeout, run.StateFailed},
}

type edge struct {
	from  run.State
	event run.Event
}

var table = func() map[edge]run.State {
	t := make(map[edge]run.State, len(rules))
	for _, r := range rules {
		t[edge{r.From, r.Event}] = r.To
	}
	return t
}()

// Rules returns the transition graph in declaration order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// ValidTransition reports whether the table has an edge for (from, event).
func ValidTransition(from run.State, event run.Event) bool {
	_, ok := table[edge{from, event}]
	return ok
}

// Target returns the state (from, event) leads to.
func Target(from run.State, event run.Event) (run.State, bool) {
	to, ok := table[edge{from, event}]
	return to, ok
}

// ValidEvents returns the events accepted in from, in stable event order.
func ValidEvents(from run.State) []run.Event {
	var out []run.Event
	for _, ev := range run.AllEvents() {
		if ValidTransition(from, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// TerminalState reports whether s has no outgoing edges. It must agree
// with run.State.Terminal for every known state.
func TerminalState(s run.State) bool {
	return len(ValidEvents(s)) == 0
}
