// Package gate evaluates release quality for a finished test run: metric
// computation over requirements, test cases, and arbitrated assertions, and
// a threshold verdict that decides whether the run may be confirmed.
package gate

import "github.com/Mindburn-Labs/attest/pkg/arbiter"

// Priority ranks a requirement. P0 requirements participate in the hard
// coverage check.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Requirement is one parsed PRD requirement. RequirementID is the business
// key ("REQ-001") that test cases reference; ID is the record identifier.
type Requirement struct {
	ID            string   `json:"id"`
	RequirementID string   `json:"requirement_id"`
	Title         string   `json:"title,omitempty"`
	Priority      Priority `json:"priority"`
	Testable      bool     `json:"testable"`
}

// TestCase is one generated case, linked to a requirement by business key.
type TestCase struct {
	CaseID        string `json:"case_id"`
	RequirementID string `json:"requirement_id"`
	Title         string `json:"title,omitempty"`
}

// History carries prior-run evidence for the flakiness metric. Executions
// maps a case ID to its recorded verdicts across historical runs.
type History struct {
	Runs       int                          `json:"runs"`
	Executions map[string][]arbiter.Verdict `json:"executions,omitempty"`
}

// Metrics are the computed gate inputs. FR is nil when fewer than three
// historical runs exist; absent is not zero.
type Metrics struct {
	RC        float64  `json:"rc"`
	APR       float64  `json:"apr"`
	FR        *float64 `json:"fr,omitempty"`
	MissingP0 []string `json:"missing_p0,omitempty"`

	TestableRequirements int `json:"testable_requirements"`
	CoveredRequirements  int `json:"covered_requirements"`
	DeterministicTotal   int `json:"deterministic_total"`
	DeterministicPassed  int `json:"deterministic_passed"`
	FlakyCases           int `json:"flaky_cases"`
	HistoriedCases       int `json:"historied_cases"`
}

// Result is the gate verdict attached to the run at report_ready.
type Result struct {
	Metrics      Metrics  `json:"metrics"`
	Blocked      bool     `json:"blocked"`
	BlockReasons []string `json:"block_reasons,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Passed       bool     `json:"passed"`
}

// Config holds gate thresholds. Zero or negative thresholds fall back to
// the defaults; BlockOnP0Failure is explicit, start from DefaultConfig to
// keep the blocking default.
type Config struct {
	RCThreshold      float64      `json:"rc_threshold" yaml:"rc_threshold"`
	APRThreshold     float64      `json:"apr_threshold" yaml:"apr_threshold"`
	FRThreshold      float64      `json:"fr_threshold" yaml:"fr_threshold"`
	BlockOnP0Failure bool         `json:"block_on_p0_failure" yaml:"block_on_p0_failure"`
	Rules            []PolicyRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Default thresholds. RC blocks; APR and FR only warn.
const (
	DefaultRCThreshold  = 0.85
	DefaultAPRThreshold = 0.95
	DefaultFRThreshold  = 0.05
)

// DefaultConfig returns the standard gate configuration.
func DefaultConfig() Config {
	return Config{
		RCThreshold:      DefaultRCThreshold,
		APRThreshold:     DefaultAPRThreshold,
		FRThreshold:      DefaultFRThreshold,
		BlockOnP0Failure: true,
	}
}

func (c Config) normalized() Config {
	if c.RCThreshold <= 0 {
		c.RCThreshold = DefaultRCThreshold
	}
	if c.APRThreshold <= 0 {
		c.APRThreshold = DefaultAPRThreshold
	}
	if c.FRThreshold <= 0 {
		c.FRThreshold = DefaultFRThreshold
	}
	return c
}
