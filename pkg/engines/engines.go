// Package engines defines the boundary between the run pipeline and the
// AI collaborators that do the actual work: the PRD parser, the Playwright
// executor, and the Codex reviewer. The pipeline depends only on these
// interfaces; production wiring uses the HTTP clients in httpengine and
// tests use the fakes in enginetest.
package engines

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/gate"
)

// ParseRequest carries the raw PRD to the parser engine.
type ParseRequest struct {
	RunID  string            `json:"run_id"`
	PRD    []byte            `json:"prd"`
	Labels map[string]string `json:"labels,omitempty"`
}

// ParseResult is the parser's output: structured requirements plus the
// generated test cases that cover them.
type ParseResult struct {
	Requirements []gate.Requirement `json:"requirements"`
	Cases        []artifact.Case    `json:"cases"`
}

// Parser turns a PRD document into requirements and test cases.
type Parser interface {
	Parse(ctx context.Context, req ParseRequest) (*ParseResult, error)
}

// ExecuteRequest carries approved test cases to the executor engine.
type ExecuteRequest struct {
	RunID string          `json:"run_id"`
	Cases []artifact.Case `json:"cases"`
}

// ExecuteResult is the executor's output: per-case results and the
// assertion-level verdicts the arbitration stage consumes.
type ExecuteResult struct {
	Cases      []artifact.CaseResult `json:"cases"`
	Assertions []arbiter.Assertion   `json:"assertions"`
}

// Executor drives the browser against the system under test.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}

// ReviewRequest carries executed assertions to the reviewer engine.
type ReviewRequest struct {
	RunID      string              `json:"run_id"`
	Cases      []artifact.Case     `json:"cases"`
	Assertions []arbiter.Assertion `json:"assertions"`
}

// ReviewResult is the reviewer's independent second opinion.
type ReviewResult struct {
	Reviewer string           `json:"reviewer"`
	Reviews  []arbiter.Review `json:"reviews"`
}

// Reviewer re-judges executed assertions independently of the executor.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// ExhaustedError reports that an engine call failed on every retry
// attempt. The pipeline maps it to the retry_exhausted failure reason.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("engine call failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
