package run

// ReasonCode identifies why a run ended in the failed state. Codes are
// stable wire identifiers and MUST NOT change between releases.
type ReasonCode string

const (
	ReasonRetryExhausted  ReasonCode = "retry_exhausted"  // engine call retries exhausted
	ReasonAgentTimeout    ReasonCode = "agent_timeout"    // a pipeline step exceeded its deadline
	ReasonApprovalTimeout ReasonCode = "approval_timeout" // approval gate stalled
	ReasonConfirmTimeout  ReasonCode = "confirm_timeout"  // confirmation gate stalled
	ReasonVerdictConflict ReasonCode = "verdict_conflict" // cross-validation could not reconcile
	ReasonPlaywrightError ReasonCode = "playwright_error" // browser execution failed
	ReasonInternalError   ReasonCode = "internal_error"   // anything unclassified
)

// AllReasonCodes returns every failure reason code.
func AllReasonCodes() []ReasonCode {
	return []ReasonCode{
		ReasonRetryExhausted,
		ReasonAgentTimeout,
		ReasonApprovalTimeout,
		ReasonConfirmTimeout,
		ReasonVerdictConflict,
		ReasonPlaywrightError,
		ReasonInternalError,
	}
}

// Valid reports whether c is a known reason code.
func (c ReasonCode) Valid() bool {
	for _, rc := range AllReasonCodes() {
		if c == rc {
			return true
		}
	}
	return false
}

// Error context tags. An ERROR event carries one of these in its reason
// field so the machine can resolve the failure reason code.
const (
	TagPlaywright      = "playwright"
	TagVerdictConflict = "verdict_conflict"
	TagRetryExhausted  = "retry_exhausted"
	TagAgentTimeout    = "agent_timeout"
)

// ErrorReason resolves an ERROR context tag to a failure reason code.
// Unrecognized tags, including the empty tag, resolve to internal_error.
func ErrorReason(tag string) ReasonCode {
	switch tag {
	case TagPlaywright:
		return ReasonPlaywrightError
	case TagVerdictConflict:
		return ReasonVerdictConflict
	case TagRetryExhausted:
		return ReasonRetryExhausted
	case TagAgentTimeout:
		return ReasonAgentTimeout
	default:
		return ReasonInternalError
	}
}

// TimeoutReason resolves the failure reason for a TIMEOUT event by the
// state it fired from. Only the two human gates have dedicated codes.
func TimeoutReason(from State) ReasonCode {
	switch from {
	case StateAwaitingApproval:
		return ReasonApprovalTimeout
	case StateReportReady:
		return ReasonConfirmTimeout
	default:
		return ReasonAgentTimeout
	}
}
