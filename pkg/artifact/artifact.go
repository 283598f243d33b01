// Package artifact defines the typed payloads written to a run's workspace
// and the validation applied to collaborator-produced documents before they
// are persisted.
package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/gate"
)

// Workspace artifact names. Steps are complete exactly when the artifacts
// they produce exist under these names.
const (
	NameManifest         = "run-manifest.json"
	NameRequirements     = "requirements.json"
	NameTestCases        = "test-cases.json"
	NameExecutionResults = "execution-results.json"
	NameReviewResults    = "codex-review-results.json"
	NameArbitration      = "arbitration-results.json"
	NameReport           = "report.json"
	NameGateResult       = "gate-result.json"
)

// Auxiliary workspace files. Not step-completion markers.
const (
	NamePRD     = "prd.md"
	NameHistory = "history.json"
)

// Manifest records run identity and input provenance. Written by the
// initialize step.
type Manifest struct {
	SchemaVersion string            `json:"schema_version"`
	RunID         string            `json:"run_id"`
	ShardID       string            `json:"shard_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	PRDDigest     string            `json:"prd_digest"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Requirements is the parser engine's requirement extraction.
type Requirements struct {
	SchemaVersion string             `json:"schema_version"`
	RunID         string             `json:"run_id"`
	Items         []gate.Requirement `json:"items"`
}

// Step is one scripted browser action of a test case.
type Step struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Case is one generated test case, linked to a requirement by business key.
type Case struct {
	CaseID        string        `json:"case_id"`
	RequirementID string        `json:"requirement_id"`
	Title         string        `json:"title,omitempty"`
	Priority      gate.Priority `json:"priority,omitempty"`
	Steps         []Step        `json:"steps,omitempty"`
}

// TestCases is the generated test proposal awaiting approval.
type TestCases struct {
	SchemaVersion string `json:"schema_version"`
	RunID         string `json:"run_id"`
	Items         []Case `json:"items"`
}

// GateCases projects the cases into the quality gate's coverage input.
func (t TestCases) GateCases() []gate.TestCase {
	out := make([]gate.TestCase, 0, len(t.Items))
	for _, c := range t.Items {
		out = append(out, gate.TestCase{
			CaseID:        c.CaseID,
			RequirementID: c.RequirementID,
			Title:         c.Title,
		})
	}
	return out
}

// CaseResult is one executed case's aggregate outcome.
type CaseResult struct {
	CaseID     string          `json:"case_id"`
	Verdict    arbiter.Verdict `json:"verdict"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// ExecutionResults is the execution engine's output.
type ExecutionResults struct {
	SchemaVersion string              `json:"schema_version"`
	RunID         string              `json:"run_id"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	Cases         []CaseResult        `json:"cases"`
	Assertions    []arbiter.Assertion `json:"assertions"`
}

// ReviewResults is the Codex reviewer's independent pass over the
// execution evidence.
type ReviewResults struct {
	SchemaVersion string           `json:"schema_version"`
	RunID         string           `json:"run_id"`
	Reviewer      string           `json:"reviewer,omitempty"`
	Reviews       []arbiter.Review `json:"reviews"`
}

// ArbitrationResults is the reconciled verdict set.
type ArbitrationResults struct {
	SchemaVersion string            `json:"schema_version"`
	RunID         string            `json:"run_id"`
	Outcomes      []arbiter.Outcome `json:"outcomes"`
	Summary       arbiter.Summary   `json:"summary"`
}

// GateDocument wraps the gate verdict for the workspace.
type GateDocument struct {
	SchemaVersion string      `json:"schema_version"`
	RunID         string      `json:"run_id"`
	Result        gate.Result `json:"result"`
}

// History accumulates executor verdicts across execution cycles of one
// workspace. Each cycle appends one verdict per executed case; the
// flakiness rate is computed from it.
type History struct {
	SchemaVersion string                       `json:"schema_version"`
	RunID         string                       `json:"run_id"`
	Runs          int                          `json:"runs"`
	Executions    map[string][]arbiter.Verdict `json:"executions,omitempty"`
}

// Append records one execution cycle's per-case verdicts.
func (h *History) Append(results []CaseResult) {
	h.Runs++
	if h.Executions == nil {
		h.Executions = make(map[string][]arbiter.Verdict, len(results))
	}
	for _, r := range results {
		h.Executions[r.CaseID] = append(h.Executions[r.CaseID], r.Verdict)
	}
}

// GateHistory projects the history into the quality gate's input.
func (h History) GateHistory() gate.History {
	return gate.History{Runs: h.Runs, Executions: h.Executions}
}

// Encode renders an artifact payload the way it is stored: indented, with a
// trailing newline.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode unmarshals an artifact payload.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}
