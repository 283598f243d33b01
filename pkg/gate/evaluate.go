package gate

import (
	"fmt"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
)

// minHistoryRuns is the history depth below which the flakiness rate is not
// computed at all.
const minHistoryRuns = 3

// minCaseExecutions is how many recorded executions a case needs before it
// counts toward the flakiness rate.
const minCaseExecutions = 3

// Evaluator applies thresholds and compiled policy rules to run metrics.
type Evaluator struct {
	cfg     Config
	program []compiledRule
}

// New builds an evaluator, compiling any policy rules up front. A rule that
// does not compile is a configuration error, not a runtime one.
func New(cfg Config) (*Evaluator, error) {
	cfg = cfg.normalized()
	prg, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, program: prg}, nil
}

// Config returns the normalized configuration in effect.
func (e *Evaluator) Config() Config { return e.cfg }

// ComputeMetrics derives the gate metrics. Coverage joins test cases to
// requirements on the business key. Assertions are expected to carry their
// arbitrated final verdicts; unarbitrated assertions count by their
// original verdict.
func ComputeMetrics(reqs []Requirement, cases []TestCase, assertions []arbiter.Assertion, history History) Metrics {
	var m Metrics

	covered := make(map[string]bool, len(cases))
	for _, tc := range cases {
		if tc.RequirementID != "" {
			covered[tc.RequirementID] = true
		}
	}

	for _, r := range reqs {
		if !r.Testable {
			continue
		}
		m.TestableRequirements++
		if covered[r.RequirementID] {
			m.CoveredRequirements++
		} else if r.Priority == PriorityP0 {
			m.MissingP0 = append(m.MissingP0, r.RequirementID)
		}
	}
	m.RC = 1.0
	if m.TestableRequirements > 0 {
		m.RC = float64(m.CoveredRequirements) / float64(m.TestableRequirements)
	}

	for _, a := range assertions {
		if a.Kind.Soft() {
			continue
		}
		m.DeterministicTotal++
		if a.Effective() == arbiter.VerdictPass {
			m.DeterministicPassed++
		}
	}
	m.APR = 1.0
	if m.DeterministicTotal > 0 {
		m.APR = float64(m.DeterministicPassed) / float64(m.DeterministicTotal)
	}

	if history.Runs >= minHistoryRuns {
		for _, verdicts := range history.Executions {
			if len(verdicts) < minCaseExecutions {
				continue
			}
			m.HistoriedCases++
			var sawPass, sawFail bool
			for _, v := range verdicts {
				switch v {
				case arbiter.VerdictPass:
					sawPass = true
				case arbiter.VerdictFail:
					sawFail = true
				}
			}
			if sawPass && sawFail {
				m.FlakyCases++
			}
		}
		fr := 0.0
		if m.HistoriedCases > 0 {
			fr = float64(m.FlakyCases) / float64(m.HistoriedCases)
		}
		m.FR = &fr
	}

	return m
}

// Evaluate computes metrics and renders the gate verdict. Requirement
// coverage and the P0 check can block; assertion pass rate and flakiness
// only warn. Passed means neither blocked nor warned.
func (e *Evaluator) Evaluate(reqs []Requirement, cases []TestCase, assertions []arbiter.Assertion, history History) Result {
	m := ComputeMetrics(reqs, cases, assertions, history)
	res := Result{Metrics: m}

	if m.RC < e.cfg.RCThreshold {
		res.BlockReasons = append(res.BlockReasons,
			fmt.Sprintf("requirement coverage %.2f below threshold %.2f", m.RC, e.cfg.RCThreshold))
	}
	if len(m.MissingP0) > 0 {
		msg := fmt.Sprintf("uncovered P0 requirements: %v", m.MissingP0)
		if e.cfg.BlockOnP0Failure {
			res.BlockReasons = append(res.BlockReasons, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}

	if m.APR < e.cfg.APRThreshold {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("assertion pass rate %.2f below threshold %.2f", m.APR, e.cfg.APRThreshold))
	}
	if m.FR != nil && *m.FR > e.cfg.FRThreshold {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("flakiness rate %.2f above threshold %.2f", *m.FR, e.cfg.FRThreshold))
	}

	blocks, warns := e.evalRules(m, history)
	res.BlockReasons = append(res.BlockReasons, blocks...)
	res.Warnings = append(res.Warnings, warns...)

	res.Blocked = len(res.BlockReasons) > 0
	res.Passed = !res.Blocked && len(res.Warnings) == 0
	return res
}
