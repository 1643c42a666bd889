package hook

import "fmt"

// FailureKind classifies a dispatch failure
type FailureKind string

// Dispatch failure kinds. Every one is recoverable: the dispatcher reports
// it through a synthesized decision instead of crashing.
const (
	FailureUnknownEventKind     FailureKind = "unknown_event_kind"
	FailureMissingRequiredField FailureKind = "missing_required_field"
	FailureMalformedDecision    FailureKind = "malformed_decision_output"
	FailureHookTimeout          FailureKind = "hook_timeout"
	FailureRuleEvaluation       FailureKind = "rule_evaluation_error"
)

// FailsOpen reports whether a fail-open policy may turn this failure into an
// allow. Only timeouts and malformed hook output qualify; a request the
// dispatcher could not even interpret always blocks.
func (f FailureKind) FailsOpen() bool {
	return f == FailureHookTimeout || f == FailureMalformedDecision
}

// DispatchError is a classified dispatch failure. It travels alongside the
// synthesized decision so callers can signal the failure (non-zero exit,
// audit tagging) while still emitting a usable verdict.
type DispatchError struct {
	Failure FailureKind
	Detail  string
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Failure, e.Detail)
}

// Failf creates a DispatchError with a formatted detail message
func Failf(kind FailureKind, format string, args ...interface{}) *DispatchError {
	return &DispatchError{
		Failure: kind,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// Synthesize converts a dispatch failure into the decision the host receives.
// Fail-closed blocks everything; fail-open allows only the failure kinds that
// qualify via FailsOpen. The failure tag and the wording keep synthesized
// decisions distinguishable from rule matches.
func Synthesize(derr *DispatchError, failOpen bool) *Decision {
	action := ActionBlock
	if failOpen && derr.Failure.FailsOpen() {
		action = ActionAllow
	}
	return &Decision{
		Action:  action,
		Message: fmt.Sprintf("dispatch failure (%s): %s", derr.Failure, derr.Detail),
		Failure: derr.Failure,
	}
}
