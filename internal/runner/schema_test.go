package runner

import (
	"testing"

	"github.com/loopworks/hookgate/internal/hook"
)

func TestDecodeDecision_Valid(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind hook.EventKind
		want hook.Action
	}{
		{
			name: "allow for pre tool use",
			data: `{"action":"allow","message":"looks fine"}`,
			kind: hook.PreToolUse,
			want: hook.ActionAllow,
		},
		{
			name: "block is universal",
			data: `{"action":"block","message":"not now"}`,
			kind: hook.SessionStart,
			want: hook.ActionBlock,
		},
		{
			name: "continue with payload",
			data: `{"action":"continue","rule":"scrub","modified_payload":{"result":{"output":"[REDACTED]"}}}`,
			kind: hook.PostToolUse,
			want: hook.ActionContinue,
		},
		{
			name: "modify prompt",
			data: `{"action":"modify","rule":"rewrite","modified_payload":{"prompt":"be brief"}}`,
			kind: hook.UserPromptSubmit,
			want: hook.ActionModify,
		},
		{
			name: "retry tool result",
			data: `{"action":"retry","message":"flaky read"}`,
			kind: hook.PostToolUse,
			want: hook.ActionRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, derr := decodeDecision([]byte(tt.data), tt.kind)
			if derr != nil {
				t.Fatalf("decodeDecision failed: %v", derr)
			}
			if dec.Action != tt.want {
				t.Errorf("expected %s, got %s", tt.want, dec.Action)
			}
		})
	}
}

func TestDecodeDecision_SynthesizedTag(t *testing.T) {
	data := `{"action":"allow","message":"dispatch failure (hook_timeout): sub-hook slow","failure":"hook_timeout"}`

	dec, derr := decodeDecision([]byte(data), hook.PreToolUse)
	if derr != nil {
		t.Fatalf("decodeDecision failed: %v", derr)
	}
	if !dec.Synthesized() {
		t.Error("failure tag should mark the decision synthesized")
	}
	if dec.Failure != hook.FailureHookTimeout {
		t.Errorf("expected hook_timeout, got %s", dec.Failure)
	}
}

func TestDecodeDecision_ExtraRootFieldTolerated(t *testing.T) {
	data := `{"action":"allow","elapsed_ms":12,"hook_version":"2.1"}`

	dec, derr := decodeDecision([]byte(data), hook.PreToolUse)
	if derr != nil {
		t.Fatalf("extra root fields should be tolerated: %v", derr)
	}
	if dec.Action != hook.ActionAllow {
		t.Errorf("expected allow, got %s", dec.Action)
	}
}

func TestDecodeDecision_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind hook.EventKind
	}{
		{name: "empty output", data: ``, kind: hook.PreToolUse},
		{name: "whitespace only", data: "  \n\t", kind: hook.PreToolUse},
		{name: "not json", data: `decision: allow`, kind: hook.PreToolUse},
		{name: "json array", data: `[1,2,3]`, kind: hook.PreToolUse},
		{name: "bare string", data: `"allow"`, kind: hook.PreToolUse},
		{name: "missing action", data: `{"message":"hi"}`, kind: hook.PreToolUse},
		{name: "unknown action", data: `{"action":"dance"}`, kind: hook.PreToolUse},
		{name: "numeric action", data: `{"action":12}`, kind: hook.PreToolUse},
		{name: "block without message", data: `{"action":"block"}`, kind: hook.PreToolUse},
		{name: "retry outside post tool use", data: `{"action":"retry","message":"x"}`, kind: hook.PreToolUse},
		{name: "allow outside gating kinds", data: `{"action":"allow"}`, kind: hook.Notification},
		{name: "allow carrying payload", data: `{"action":"allow","modified_payload":{"a":1}}`, kind: hook.PreToolUse},
		{name: "modify without payload", data: `{"action":"modify"}`, kind: hook.PreToolUse},
		{name: "payload not an object", data: `{"action":"continue","modified_payload":[1]}`, kind: hook.PostToolUse},
		{name: "unknown failure kind", data: `{"action":"allow","failure":"weird"}`, kind: hook.PreToolUse},
		{name: "rule and failure together", data: `{"action":"block","message":"m","rule":"r","failure":"hook_timeout"}`, kind: hook.PreToolUse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, derr := decodeDecision([]byte(tt.data), tt.kind)
			if derr == nil {
				t.Fatal("expected a malformed decision error")
			}
			if derr.Failure != hook.FailureMalformedDecision {
				t.Errorf("expected malformed_decision_output, got %s", derr.Failure)
			}
		})
	}
}

func TestDecisionSchema_Reusable(t *testing.T) {
	first, err := decisionSchema()
	if err != nil {
		t.Fatalf("decisionSchema failed: %v", err)
	}
	second, err := decisionSchema()
	if err != nil {
		t.Fatalf("decisionSchema failed on reuse: %v", err)
	}
	if first != second {
		t.Error("schema should be built once and reused")
	}
}
