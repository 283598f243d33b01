package localengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/engines"
	"github.com/Mindburn-Labs/attest/pkg/gate"
)

const localPRD = `# Checkout

- REQ-001 (P0): Customers can pay by card.
REQ-002: Customers can cancel before paying.
REQ-003 (P1): Refund ledger reconciles [manual].
REQ-001 (P0): Customers can pay by card.
`

func TestParserExtractsRequirements(t *testing.T) {
	res, err := Parser{}.Parse(context.Background(), engines.ParseRequest{RunID: "run-1", PRD: []byte(localPRD)})
	require.NoError(t, err)

	require.Len(t, res.Requirements, 3, "duplicate REQ-001 collapses")

	first := res.Requirements[0]
	require.Equal(t, "REQ-001", first.RequirementID)
	require.Equal(t, gate.PriorityP0, first.Priority)
	require.Equal(t, "Customers can pay by card", first.Title)
	require.True(t, first.Testable)

	require.Equal(t, gate.PriorityP2, res.Requirements[1].Priority, "unannotated defaults to P2")

	manual := res.Requirements[2]
	require.Equal(t, "REQ-003", manual.RequirementID)
	require.False(t, manual.Testable)

	require.Len(t, res.Cases, 2, "no case for the manual requirement")
	require.Equal(t, "case-1", res.Cases[0].CaseID)
	require.Equal(t, "REQ-001", res.Cases[0].RequirementID)
	require.Equal(t, "verify Customers can pay by card", res.Cases[0].Title)
	require.NotEmpty(t, res.Cases[0].Steps)
	require.Equal(t, "REQ-002", res.Cases[1].RequirementID)
}

func TestParserRejectsPRDWithoutRequirements(t *testing.T) {
	_, err := Parser{}.Parse(context.Background(), engines.ParseRequest{RunID: "run-1", PRD: []byte("just prose, no tags")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no REQ-tagged requirements")
}

func TestExecutorSimulatesPasses(t *testing.T) {
	req := engines.ExecuteRequest{
		RunID: "run-1",
		Cases: []artifact.Case{
			{CaseID: "case-1", Steps: []artifact.Step{
				{Action: "goto", Target: "/"},
				{Action: "assert_visible", Target: "body"},
				{Action: "assert_text", Target: "h1"},
			}},
			{CaseID: "case-2"},
		},
	}

	res, err := Executor{StepDuration: 100 * time.Millisecond}.Execute(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Cases, 2)
	require.Equal(t, arbiter.VerdictPass, res.Cases[0].Verdict)
	require.Equal(t, int64(300), res.Cases[0].DurationMs)
	require.Equal(t, int64(100), res.Cases[1].DurationMs)

	require.Len(t, res.Assertions, 3, "two assert steps plus a fallback for the bare case")
	require.Equal(t, "case-1-a1", res.Assertions[0].ID)
	require.Equal(t, "case-1-a2", res.Assertions[1].ID)
	require.Equal(t, "case-2-a1", res.Assertions[2].ID)
	for _, a := range res.Assertions {
		require.Equal(t, arbiter.VerdictPass, a.Verdict)
	}
}

func TestReviewerConcurs(t *testing.T) {
	req := engines.ReviewRequest{
		RunID: "run-1",
		Assertions: []arbiter.Assertion{
			{ID: "case-1-a1", CaseID: "case-1", Verdict: arbiter.VerdictPass},
			{ID: "case-1-a2", CaseID: "case-1", Verdict: arbiter.VerdictFail},
		},
	}

	res, err := Reviewer{}.Review(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "local", res.Reviewer)
	require.Len(t, res.Reviews, 2)
	for _, rv := range res.Reviews {
		require.Equal(t, arbiter.ReviewAgree, rv.Verdict)
	}

	named, err := Reviewer{Name: "shadow"}.Review(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "shadow", named.Reviewer)
}
