package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/engines"
	"github.com/Mindburn-Labs/attest/pkg/engines/enginetest"
	"github.com/Mindburn-Labs/attest/pkg/gate"
	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/run"
	"github.com/Mindburn-Labs/attest/pkg/store"
	"github.com/Mindburn-Labs/attest/pkg/workspace"
)

const serverTestPRD = `# Checkout

REQ-001 (P0): Customers can pay by card.
`

var serverTestSecret = []byte("0123456789abcdef0123456789abcdef")

func serverParseResult() *engines.ParseResult {
	return &engines.ParseResult{
		Requirements: []gate.Requirement{
			{ID: "req-1", RequirementID: "REQ-001", Title: "pay by card", Priority: gate.PriorityP0, Testable: true},
		},
		Cases: []artifact.Case{
			{
				CaseID:        "case-1",
				RequirementID: "REQ-001",
				Title:         "successful card payment",
				Priority:      gate.PriorityP0,
				Steps:         []artifact.Step{{Action: "goto", Target: "/checkout"}, {Action: "click", Target: "#pay"}},
			},
		},
	}
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	runs := store.NewMemoryStore()
	seq, err := pipeline.New(pipeline.Deps{
		Machine:   lifecycle.NewMachine(),
		Runs:      runs,
		Workspace: workspace.NewMemoryStore(),
		Parser:    &enginetest.StaticParser{Result: serverParseResult()},
		Executor:  enginetest.ExecuteAllPass(),
		Reviewer:  enginetest.AgreeWithEverything("codex"),
	}, pipeline.Config{})
	require.NoError(t, err)

	return NewServer(seq, runs, cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type runBody struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Reason    string `json:"reason"`
	GateToken string `json:"gate_token"`
	Decisions []struct {
		Event string `json:"event"`
	} `json:"decisions"`
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) runBody {
	t.Helper()
	var rb runBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rb))
	return rb
}

func startRun(t *testing.T, h http.Handler) runBody {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"prd": %q}`, serverTestPRD), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeRun(t, w)
}

func TestServerStartRunPausesAtApproval(t *testing.T) {
	srv := newTestServer(t, ServerConfig{Tokens: NewGateTokens(serverTestSecret, time.Hour)})
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/runs",
		fmt.Sprintf(`{"prd": %q, "labels": {"suite": "checkout"}}`, serverTestPRD), nil)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	rb := decodeRun(t, w)
	require.NotEmpty(t, rb.ID)
	require.Equal(t, string(run.StateAwaitingApproval), rb.State)
	require.NotEmpty(t, rb.GateToken, "a paused run carries its gate token")
	require.Len(t, rb.Decisions, 3)
}

func TestServerGateFlowWithTokens(t *testing.T) {
	srv := newTestServer(t, ServerConfig{Tokens: NewGateTokens(serverTestSecret, time.Hour)})
	h := srv.Handler()
	started := startRun(t, h)

	// No token at all.
	w := doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/approval", `{"decision":"accepted"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	// Approval token posted against the confirmation gate.
	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/confirmation", `{"decision":"accepted"}`, bearer(started.GateToken))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The real approval drives to the confirmation gate and mints its token.
	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/approval",
		`{"decision":"accepted","actor":"qa-lead"}`, bearer(started.GateToken))
	require.Equal(t, http.StatusOK, w.Code)
	rb := decodeRun(t, w)
	require.Equal(t, string(run.StateReportReady), rb.State)
	require.NotEmpty(t, rb.GateToken)
	require.NotEqual(t, started.GateToken, rb.GateToken)

	// The spent approval token cannot confirm.
	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/confirmation", `{"decision":"accepted"}`, bearer(started.GateToken))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/confirmation", `{"decision":"accepted"}`, bearer(rb.GateToken))
	require.Equal(t, http.StatusOK, w.Code)
	done := decodeRun(t, w)
	require.Equal(t, string(run.StateCompleted), done.State)
	require.Empty(t, done.GateToken, "terminal runs have no pending gate")
}

func TestServerRejectionLoopsBackToApproval(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/approval",
		`{"decision":"rejected","actor":"qa-lead","note":"missing cancel case"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	rb := decodeRun(t, w)
	require.Equal(t, string(run.StateAwaitingApproval), rb.State)
	require.Len(t, rb.Decisions, 5)
	require.Equal(t, string(run.EventRejected), rb.Decisions[3].Event)
	require.Equal(t, string(run.EventGenerationComplete), rb.Decisions[4].Event)
}

func TestServerDecisionAgainstWrongGate(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/confirmation", `{"decision":"accepted"}`, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestServerDecisionValidation(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/approval", `{"decision":"maybe"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/approval", `{{{`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs/absent/approval", `{"decision":"accepted"}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerGetRun(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodGet, "/v1/runs/"+started.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rb := decodeRun(t, w)
	require.Equal(t, started.ID, rb.ID)
	require.Equal(t, string(run.StateAwaitingApproval), rb.State)

	w = doJSON(t, h, http.MethodGet, "/v1/runs/absent", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	require.Equal(t, "/v1/runs/absent", problem.Instance)
	require.NotEmpty(t, problem.TraceID)

	w = doJSON(t, h, http.MethodGet, "/v1/runs/"+started.ID+"/artifacts", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerStepsAndResume(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodGet, "/v1/runs/"+started.ID+"/steps", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var steps stepsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &steps))
	require.Equal(t, started.ID, steps.RunID)
	require.Equal(t, []pipeline.Step{
		pipeline.StepTestExecution,
		pipeline.StepCodexReview,
		pipeline.StepCrossValidation,
		pipeline.StepReportGeneration,
		pipeline.StepQualityGate,
	}, steps.Steps)

	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/resume", `{"from":"deploy"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// codex_review needs execution-results, which do not exist yet.
	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/resume", `{"from":"codex_review"}`, nil)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs/"+started.ID+"/resume", `{"from":"test_execution"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rb := decodeRun(t, w)
	require.Equal(t, string(run.StateReportReady), rb.State)
}

func TestServerListRuns(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"run_id":"run-a","prd": %q}`, serverTestPRD), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"run_id":"run-b","prd": %q}`, serverTestPRD), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var list runListResponse
	w = doJSON(t, h, http.MethodGet, "/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/runs?state=awaiting_approval", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/runs?state=completed", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 0, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/runs?limit=1", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)

	w = doJSON(t, h, http.MethodGet, "/v1/runs?state=bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/runs?limit=lots", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerStartRunValidation(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/runs", `{"prd":""}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs", `not json`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"run_id":"dup","prd": %q}`, serverTestPRD), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"run_id":"dup","prd": %q}`, serverTestPRD), nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestServerIdempotencyKey(t *testing.T) {
	srv := newTestServer(t, ServerConfig{Keys: lifecycle.NewMemoryKeyStore(0)})
	h := srv.Handler()

	hdr := map[string]string{"Idempotency-Key": "idem-1"}
	w := doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"prd": %q}`, serverTestPRD), hdr)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/v1/runs", fmt.Sprintf(`{"prd": %q}`, serverTestPRD), hdr)
	require.Equal(t, http.StatusConflict, w.Code)

	// GETs pass through untouched.
	w = doJSON(t, h, http.MethodGet, "/v1/runs", "", hdr)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServerMaxBodyLimit(t *testing.T) {
	srv := newTestServer(t, ServerConfig{MaxBodyBytes: 64})
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/v1/runs",
		fmt.Sprintf(`{"prd": %q}`, strings.Repeat("big ", 100)), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	h := srv.Handler()
	started := startRun(t, h)

	w := doJSON(t, h, http.MethodDelete, "/v1/runs", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/runs/"+started.ID+"/approval", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = doJSON(t, h, http.MethodPost, "/healthz", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServerHealthz(t *testing.T) {
	srv := newTestServer(t, ServerConfig{})
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
