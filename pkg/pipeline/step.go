// Package pipeline drives one run through the fixed step sequence,
// checkpointing through the state machine and the run workspace. The
// workspace is the source of truth between steps: every step reads its
// inputs from named artifacts and writes named artifacts back, which is
// what makes runs resumable after a crash.
package pipeline

import (
	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

// Step is one named stage of the pipeline.
type Step string

const (
	StepInitialize       Step = "initialize"
	StepPRDParsing       Step = "prd_parsing"
	StepTestExecution    Step = "test_execution"
	StepCodexReview      Step = "codex_review"
	StepCrossValidation  Step = "cross_validation"
	StepReportGeneration Step = "report_generation"
	StepQualityGate      Step = "quality_gate"
)

// AllSteps returns the pipeline steps in execution order.
func AllSteps() []Step {
	return []Step{
		StepInitialize,
		StepPRDParsing,
		StepTestExecution,
		StepCodexReview,
		StepCrossValidation,
		StepReportGeneration,
		StepQualityGate,
	}
}

// Valid reports whether s names a pipeline step.
func (s Step) Valid() bool {
	return s.index() >= 0
}

func (s Step) index() int {
	for i, step := range AllSteps() {
		if s == step {
			return i
		}
	}
	return -1
}

// Produces returns the workspace artifacts the step must write for the
// step to count as complete.
func (s Step) Produces() []string {
	switch s {
	case StepInitialize:
		return []string{artifact.NameManifest}
	case StepPRDParsing:
		return []string{artifact.NameRequirements, artifact.NameTestCases}
	case StepTestExecution:
		return []string{artifact.NameExecutionResults}
	case StepCodexReview:
		return []string{artifact.NameReviewResults}
	case StepCrossValidation:
		return []string{artifact.NameArbitration}
	case StepReportGeneration:
		return []string{artifact.NameReport}
	case StepQualityGate:
		return []string{artifact.NameGateResult}
	}
	return nil
}

// failureTag is the ERROR context tag for a non-timeout step failure.
// Steps without a dedicated tag resolve to internal_error.
func (s Step) failureTag() string {
	switch s {
	case StepTestExecution:
		return run.TagPlaywright
	case StepCrossValidation:
		return run.TagVerdictConflict
	}
	return ""
}

// Status of one executed step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult reports one step execution.
type StepResult struct {
	Step       Step     `json:"step"`
	Status     Status   `json:"status"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
}
