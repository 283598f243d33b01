// Package arbiter reconciles the execution engine's assertion verdicts with
// the independent Codex review. Arbitration is pure: same inputs, same
// outcomes, no clock, no I/O.
package arbiter

// Verdict is an assertion outcome as reported by the execution engine and,
// after arbitration, as the reconciled final outcome.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// ReviewVerdict is Codex's judgement of a single assertion outcome.
type ReviewVerdict string

const (
	ReviewAgree     ReviewVerdict = "agree"
	ReviewDisagree  ReviewVerdict = "disagree"
	ReviewUncertain ReviewVerdict = "uncertain"
)

// Kind classifies an assertion. Deterministic kinds carry machine-checkable
// evidence; soft assertions are judged by the LLM executor.
type Kind string

const (
	KindTextContains    Kind = "text_contains"
	KindElementVisible  Kind = "element_visible"
	KindURLMatches      Kind = "url_matches"
	KindAttributeEquals Kind = "attribute_equals"
	KindSoft            Kind = "soft"
)

// Soft reports whether the kind has no deterministic ground truth.
func (k Kind) Soft() bool { return k == KindSoft }

// Assertion is one checked expectation from an executed test case.
type Assertion struct {
	ID           string  `json:"id"`
	CaseID       string  `json:"case_id"`
	Kind         Kind    `json:"kind"`
	Expected     string  `json:"expected,omitempty"`
	Actual       string  `json:"actual,omitempty"`
	Verdict      Verdict `json:"verdict"`
	FinalVerdict Verdict `json:"final_verdict,omitempty"`
}

// Effective returns the arbitrated verdict when one was applied, otherwise
// the execution engine's original verdict.
func (a Assertion) Effective() Verdict {
	if a.FinalVerdict != "" {
		return a.FinalVerdict
	}
	return a.Verdict
}

// Review is Codex's judgement of one assertion, keyed by assertion ID.
type Review struct {
	AssertionID string        `json:"assertion_id"`
	Verdict     ReviewVerdict `json:"verdict"`
	Note        string        `json:"note,omitempty"`
}

// Outcome is the arbitrated result for one assertion.
type Outcome struct {
	AssertionID string        `json:"assertion_id"`
	Original    Verdict       `json:"original"`
	Review      ReviewVerdict `json:"review"`
	Final       Verdict       `json:"final"`
	Conflict    bool          `json:"conflict"`
	Reason      string        `json:"reason,omitempty"`
}

// Summary aggregates arbitrated outcomes for reporting and gate evaluation.
type Summary struct {
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	Errors        int     `json:"errors"`
	Conflicts     int     `json:"conflicts"`
	AgreementRate float64 `json:"agreement_rate"`
}

// Arbitrate reconciles assertions with reviews, preserving assertion order.
// Reviews are matched by assertion ID; an assertion with no review keeps its
// original verdict with a synthetic uncertain review and no conflict, soft
// assertions included. An actual uncertain review fails a soft assertion
// closed but defers to deterministic evidence otherwise.
func Arbitrate(assertions []Assertion, reviews []Review) []Outcome {
	byID := make(map[string]Review, len(reviews))
	for _, rv := range reviews {
		byID[rv.AssertionID] = rv
	}

	outcomes := make([]Outcome, 0, len(assertions))
	for _, a := range assertions {
		rv, reviewed := byID[a.ID]
		out := Outcome{
			AssertionID: a.ID,
			Original:    a.Verdict,
			Final:       a.Verdict,
		}

		if !reviewed {
			out.Review = ReviewUncertain
			out.Reason = "no review recorded"
			outcomes = append(outcomes, out)
			continue
		}

		out.Review = rv.Verdict
		switch rv.Verdict {
		case ReviewAgree:
			// keep original
		case ReviewDisagree:
			out.Final = VerdictFail
			out.Conflict = true
			out.Reason = "review disagrees with " + string(a.Verdict)
		case ReviewUncertain:
			if a.Kind.Soft() {
				out.Final = VerdictFail
				out.Conflict = true
				out.Reason = "uncertain review on soft assertion"
			}
		default:
			// Unknown review verdicts are treated as uncertain.
			if a.Kind.Soft() {
				out.Final = VerdictFail
				out.Conflict = true
				out.Reason = "unrecognized review verdict " + string(rv.Verdict)
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// ApplyOutcomes writes final verdicts back onto the assertions in place.
// Assertions without a matching outcome are left untouched.
func ApplyOutcomes(assertions []Assertion, outcomes []Outcome) {
	finals := make(map[string]Verdict, len(outcomes))
	for _, o := range outcomes {
		finals[o.AssertionID] = o.Final
	}
	for i := range assertions {
		if v, ok := finals[assertions[i].ID]; ok {
			assertions[i].FinalVerdict = v
		}
	}
}

// Summarize counts final verdicts and conflicts. AgreementRate is
// (total-conflicts)/total, and 1.0 for an empty outcome set.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Final {
		case VerdictPass:
			s.Passed++
		case VerdictFail:
			s.Failed++
		case VerdictError:
			s.Errors++
		}
		if o.Conflict {
			s.Conflicts++
		}
	}
	if s.Total == 0 {
		s.AgreementRate = 1.0
		return s
	}
	s.AgreementRate = float64(s.Total-s.Conflicts) / float64(s.Total)
	return s
}
