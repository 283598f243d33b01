// Package report assembles the human-facing run report that the
// confirmation gate reviews, and signs it so downstream consumers can
// verify it was produced by this orchestrator.
package report

import (
	"time"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/artifact"
)

// CaseReport is one test case's final outcome after arbitration.
type CaseReport struct {
	CaseID        string          `json:"case_id"`
	RequirementID string          `json:"requirement_id"`
	Title         string          `json:"title,omitempty"`
	Verdict       arbiter.Verdict `json:"verdict"`
	Conflict      bool            `json:"conflict,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Report is the signed run summary. Digest, Signature, and PublicKey are
// filled by Signer.Sign; the digest covers every other field.
type Report struct {
	SchemaVersion string          `json:"schema_version"`
	RunID         string          `json:"run_id"`
	ShardID       string          `json:"shard_id,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Summary       arbiter.Summary `json:"summary"`
	Cases         []CaseReport    `json:"cases"`
	Digest        string          `json:"digest,omitempty"`
	Signature     string          `json:"signature,omitempty"`
	PublicKey     string          `json:"public_key,omitempty"`
}

// BuildInput collects the upstream artifacts a report is assembled from.
type BuildInput struct {
	RunID       string
	ShardID     string
	Cases       []artifact.Case
	Execution   artifact.ExecutionResults
	Arbitration artifact.ArbitrationResults
}

// Build assembles a report. Case verdicts are recomputed from the
// arbitrated assertion verdicts: any failing assertion fails the case,
// otherwise any errored assertion marks it errored, otherwise it passes.
// Cases keep their input order.
func Build(in BuildInput, now time.Time) *Report {
	assertions := make([]arbiter.Assertion, len(in.Execution.Assertions))
	copy(assertions, in.Execution.Assertions)
	arbiter.ApplyOutcomes(assertions, in.Arbitration.Outcomes)

	conflicts := make(map[string]bool)
	for _, o := range in.Arbitration.Outcomes {
		if o.Conflict {
			conflicts[o.AssertionID] = true
		}
	}

	type caseState struct {
		failed   bool
		errored  bool
		conflict bool
		seen     bool
	}
	states := make(map[string]*caseState, len(in.Cases))
	for _, a := range assertions {
		st := states[a.CaseID]
		if st == nil {
			st = &caseState{}
			states[a.CaseID] = st
		}
		st.seen = true
		switch a.Effective() {
		case arbiter.VerdictFail:
			st.failed = true
		case arbiter.VerdictError:
			st.errored = true
		}
		if conflicts[a.ID] {
			st.conflict = true
		}
	}

	results := make(map[string]artifact.CaseResult, len(in.Execution.Cases))
	for _, cr := range in.Execution.Cases {
		results[cr.CaseID] = cr
	}

	r := &Report{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         in.RunID,
		ShardID:       in.ShardID,
		GeneratedAt:   now.UTC(),
		Summary:       in.Arbitration.Summary,
		Cases:         make([]CaseReport, 0, len(in.Cases)),
	}
	for _, c := range in.Cases {
		cr := CaseReport{
			CaseID:        c.CaseID,
			RequirementID: c.RequirementID,
			Title:         c.Title,
			Verdict:       arbiter.VerdictPass,
		}
		if res, ok := results[c.CaseID]; ok {
			cr.DurationMs = res.DurationMs
			cr.Error = res.Error
		}
		if st := states[c.CaseID]; st != nil && st.seen {
			switch {
			case st.failed:
				cr.Verdict = arbiter.VerdictFail
			case st.errored:
				cr.Verdict = arbiter.VerdictError
			}
			cr.Conflict = st.conflict
		} else if res, ok := results[c.CaseID]; ok {
			cr.Verdict = res.Verdict
		}
		r.Cases = append(r.Cases, cr)
	}
	return r
}
