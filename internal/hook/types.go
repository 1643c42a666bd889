package hook

import (
	"bytes"
	"encoding/json"
)

// EventKind identifies a lifecycle event emitted by the agent host
type EventKind string

// Lifecycle event kinds
const (
	SessionStart     EventKind = "SessionStart"
	UserPromptSubmit EventKind = "UserPromptSubmit"
	PreToolUse       EventKind = "PreToolUse"
	PostToolUse      EventKind = "PostToolUse"
	Notification     EventKind = "Notification"
	Stop             EventKind = "Stop"
	SubagentStop     EventKind = "SubagentStop"
	PreCompact       EventKind = "PreCompact"
)

// Kinds returns every recognized event kind in lifecycle order
func Kinds() []EventKind {
	return []EventKind{
		SessionStart,
		UserPromptSubmit,
		PreToolUse,
		PostToolUse,
		Notification,
		Stop,
		SubagentStop,
		PreCompact,
	}
}

// Valid reports whether k is a recognized event kind
func (k EventKind) Valid() bool {
	switch k {
	case SessionStart, UserPromptSubmit, PreToolUse, PostToolUse,
		Notification, Stop, SubagentStop, PreCompact:
		return true
	}
	return false
}

// Gating reports whether the host waits on the decision before proceeding.
// Non-gating kinds are observational: the host keeps going regardless, but a
// block decision is still surfaced to the user.
func (k EventKind) Gating() bool {
	switch k {
	case PreToolUse, Stop, SubagentStop:
		return true
	}
	return false
}

// Event is a single lifecycle event received on stdin. Which optional fields
// must be present depends on Kind: tool events carry tool_name (and params or
// result), prompt events carry prompt.
type Event struct {
	Kind      EventKind              `json:"event_kind"`
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Prompt    string                 `json:"prompt,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Validate checks the kind and the kind-dependent required fields. The
// session_id is deliberately not validated here: it only correlates audit
// records and the host may omit it.
func (e *Event) Validate() *DispatchError {
	if e.Kind == "" {
		return Failf(FailureUnknownEventKind, "event_kind is missing")
	}
	if !e.Kind.Valid() {
		return Failf(FailureUnknownEventKind, "unrecognized event_kind %q", e.Kind)
	}
	switch e.Kind {
	case PreToolUse, PostToolUse:
		if e.ToolName == "" {
			return Failf(FailureMissingRequiredField, "%s event is missing tool_name", e.Kind)
		}
	case UserPromptSubmit:
		if e.Prompt == "" {
			return Failf(FailureMissingRequiredField, "UserPromptSubmit event is missing prompt")
		}
	}
	return nil
}

// ParseEvent decodes and validates a raw event payload. A payload that does
// not decode at all is reported as unknown_event_kind: without a usable
// event_kind there is no way to classify it further.
func ParseEvent(data []byte) (*Event, *DispatchError) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Failf(FailureUnknownEventKind, "event payload is empty")
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, Failf(FailureUnknownEventKind, "event payload is not valid JSON: %v", err)
	}
	if derr := ev.Validate(); derr != nil {
		return nil, derr
	}
	return &ev, nil
}

// Action is the verdict carried by a Decision
type Action string

// Decision actions
const (
	ActionAllow    Action = "allow"
	ActionBlock    Action = "block"
	ActionModify   Action = "modify"
	ActionRetry    Action = "retry"
	ActionContinue Action = "continue"
)

// Valid reports whether a is a recognized action
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionModify, ActionRetry, ActionContinue:
		return true
	}
	return false
}

// ValidFor reports whether a is a permitted verdict for events of kind k.
// Block is universal; allow gates PreToolUse and the stop kinds; modify
// rewrites tool params or prompts; retry applies to tool results only;
// continue covers the non-gating flows.
func (a Action) ValidFor(k EventKind) bool {
	if !k.Valid() {
		return false
	}
	switch a {
	case ActionBlock:
		return true
	case ActionAllow:
		return k == PreToolUse || k == Stop || k == SubagentStop
	case ActionModify:
		return k == PreToolUse || k == UserPromptSubmit
	case ActionRetry:
		return k == PostToolUse
	case ActionContinue:
		return k == SessionStart || k == UserPromptSubmit || k == PostToolUse ||
			k == Notification || k == PreCompact
	}
	return false
}

// Decision is the single JSON document written to stdout for an event.
// Rule names the matched rule or built-in check when the decision came from
// policy evaluation. Failure is set only on decisions synthesized from a
// dispatch failure; the two are never set together.
type Decision struct {
	Action          Action                 `json:"action"`
	Message         string                 `json:"message,omitempty"`
	ModifiedPayload map[string]interface{} `json:"modified_payload,omitempty"`
	Rule            string                 `json:"rule,omitempty"`
	Failure         FailureKind            `json:"failure,omitempty"`
}

// Synthesized reports whether this decision was manufactured from a dispatch
// failure rather than produced by rule evaluation
func (d *Decision) Synthesized() bool {
	return d.Failure != ""
}

// ValidateFor checks that the decision is well formed for events of kind k.
// Used on decisions parsed from external hook output; violations map to
// malformed_decision_output at the call site.
func (d *Decision) ValidateFor(k EventKind) error {
	if !d.Action.Valid() {
		return Failf(FailureMalformedDecision, "unrecognized action %q", d.Action)
	}
	if !d.Action.ValidFor(k) {
		return Failf(FailureMalformedDecision, "action %q is not valid for %s events", d.Action, k)
	}
	if d.Action == ActionBlock && d.Message == "" {
		return Failf(FailureMalformedDecision, "block decision is missing a message")
	}
	if d.Action == ActionModify && len(d.ModifiedPayload) == 0 {
		return Failf(FailureMalformedDecision, "modify decision is missing modified_payload")
	}
	if d.Action == ActionAllow && len(d.ModifiedPayload) > 0 {
		return Failf(FailureMalformedDecision, "allow decision must not carry modified_payload")
	}
	if d.Rule != "" && d.Failure != "" {
		return Failf(FailureMalformedDecision, "decision claims both a rule and a failure")
	}
	return nil
}

// Allow creates an allow decision
func Allow(message string) *Decision {
	return &Decision{
		Action:  ActionAllow,
		Message: message,
	}
}

// Block creates a block decision attributed to the named rule or check
func Block(rule, message string) *Decision {
	return &Decision{
		Action:  ActionBlock,
		Message: message,
		Rule:    rule,
	}
}

// Continue creates a continue decision with no payload changes
func Continue(message string) *Decision {
	return &Decision{
		Action:  ActionContinue,
		Message: message,
	}
}

// ContinueWith creates a continue decision carrying a modified payload
func ContinueWith(rule, message string, payload map[string]interface{}) *Decision {
	return &Decision{
		Action:          ActionContinue,
		Message:         message,
		ModifiedPayload: payload,
		Rule:            rule,
	}
}

// Modify creates a modify decision carrying the substituted payload
func Modify(rule, message string, payload map[string]interface{}) *Decision {
	return &Decision{
		Action:          ActionModify,
		Message:         message,
		ModifiedPayload: payload,
		Rule:            rule,
	}
}

// Retry creates a retry decision for a failed tool result
func Retry(message string) *Decision {
	return &Decision{
		Action:  ActionRetry,
		Message: message,
	}
}
