package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAssignsSequence(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r := New("run-1", "s1", now)
	require.Equal(t, StateCreated, r.State)

	d1 := r.Record(Decision{From: StateCreated, To: StateParsing, Event: EventStartParsing, At: now.Add(time.Second)})
	d2 := r.Record(Decision{From: StateParsing, To: StateGenerating, Event: EventParsingComplete, At: now.Add(2 * time.Second)})

	require.Equal(t, 1, d1.Seq)
	require.Equal(t, 2, d2.Seq)
	require.Equal(t, StateGenerating, r.State)
	require.Equal(t, now.Add(2*time.Second), r.UpdatedAt)
	require.Len(t, r.Decisions, 2)
}

func TestSetArtifact(t *testing.T) {
	r := New("run-1", "", time.Now())
	r.SetArtifact("requirements.json", "runs/run-1/requirements.json")
	require.Equal(t, "runs/run-1/requirements.json", r.Artifacts["requirements.json"])
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r := New("run-1", "s1", now)
	r.SetArtifact("run-manifest.json", "runs/run-1/run-manifest.json")
	r.Labels = map[string]string{"team": "checkout"}
	r.Record(Decision{
		From: StateCreated, To: StateParsing, Event: EventStartParsing,
		Meta: map[string]any{"attempt": 1}, At: now,
	})

	c := r.Clone()
	c.SetArtifact("requirements.json", "elsewhere")
	c.Labels["team"] = "billing"
	c.Decisions[0].Meta["attempt"] = 2

	require.NotContains(t, r.Artifacts, "requirements.json")
	require.Equal(t, "checkout", r.Labels["team"])
	require.Equal(t, 1, r.Decisions[0].Meta["attempt"])

	var nilRun *Run
	require.Nil(t, nilRun.Clone())
}

func TestTerminalStates(t *testing.T) {
	for _, s := range AllStates() {
		want := s == StateCompleted || s == StateFailed
		require.Equal(t, want, s.Terminal(), "state %s", s)
		require.True(t, s.Valid())
	}
	require.False(t, State("paused").Valid())
}

func TestEnumerations(t *testing.T) {
	require.Len(t, AllStates(), 9)
	require.Len(t, AllEvents(), 11)
	require.Len(t, AllReasonCodes(), 7)
	for _, rc := range AllReasonCodes() {
		require.True(t, rc.Valid())
	}
	require.False(t, ReasonCode("out_of_coffee").Valid())
}

func TestErrorReasonMapping(t *testing.T) {
	require.Equal(t, ReasonPlaywrightError, ErrorReason(TagPlaywright))
	require.Equal(t, ReasonVerdictConflict, ErrorReason(TagVerdictConflict))
	require.Equal(t, ReasonRetryExhausted, ErrorReason(TagRetryExhausted))
	require.Equal(t, ReasonAgentTimeout, ErrorReason(TagAgentTimeout))
	require.Equal(t, ReasonInternalError, ErrorReason("anything else"))
}

func TestTimeoutReasonMapping(t *testing.T) {
	require.Equal(t, ReasonApprovalTimeout, TimeoutReason(StateAwaitingApproval))
	require.Equal(t, ReasonConfirmTimeout, TimeoutReason(StateReportReady))
	require.Equal(t, ReasonAgentTimeout, TimeoutReason(StateExecuting))
	require.Equal(t, ReasonAgentTimeout, TimeoutReason(StateParsing))
}
