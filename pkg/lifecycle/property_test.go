//go:build property
// +build property

// Property-based checks over the transition table and the duplicate guard.
package lifecycle_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

// TestTableQueriesConsistent verifies every table query derives from the
// same edge set.
// Property: ValidTransition(s,e) == Target ok == ValidEvents contains e,
// and terminality means zero outgoing edges.
func TestTableQueriesConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	states := run.AllStates()
	events := run.AllEvents()

	properties.Property("table queries agree", prop.ForAll(
		func(si, ei int) bool {
			s := states[si]
			e := events[ei]

			valid := lifecycle.ValidTransition(s, e)
			_, ok := lifecycle.Target(s, e)
			if valid != ok {
				return false
			}

			listed := false
			for _, ev := range lifecycle.ValidEvents(s) {
				if ev == e {
					listed = true
				}
			}
			if valid != listed {
				return false
			}

			return lifecycle.TerminalState(s) == (len(lifecycle.ValidEvents(s)) == 0)
		},
		gen.IntRange(0, len(states)-1),
		gen.IntRange(0, len(events)-1),
	))

	properties.TestingRun(t)
}

// TestDuplicateAlwaysSuppressed verifies the guard for arbitrary tuples.
// Property: for any valid (state, event) and any run/shard ids, the second
// identical request is a no-op with the same target state.
func TestDuplicateAlwaysSuppressed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rules := lifecycle.Rules()

	properties.Property("second delivery no-ops", prop.ForAll(
		func(ri int, runID, shardID string) bool {
			rule := rules[ri]
			m := lifecycle.NewMachine()
			req := lifecycle.Request{
				RunID:   runID,
				From:    rule.From,
				Event:   rule.Event,
				ShardID: shardID,
			}

			first, err := m.Transition(context.Background(), req)
			if err != nil || first.NoOp || first.State != rule.To {
				return false
			}
			second, err := m.Transition(context.Background(), req)
			return err == nil && second.NoOp && second.State == rule.To && second.Entry == nil
		},
		gen.IntRange(0, len(rules)-1),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
