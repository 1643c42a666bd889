package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/dispatch"
	"github.com/loopworks/hookgate/internal/hook"
)

func newTestRunner(cfg *config.Config) *Runner {
	return New(cfg, dispatch.New(cfg))
}

func withHook(cfg *config.Config, kind hook.EventKind, command string, timeout int) *config.Config {
	if cfg.Hooks == nil {
		cfg.Hooks = make(map[string]config.HookCommand)
	}
	cfg.Hooks[string(kind)] = config.HookCommand{
		Command: command,
		Timeout: timeout,
		Enabled: true,
	}
	return cfg
}

func bashEvent(command string) *hook.Event {
	return &hook.Event{
		Kind:      hook.PreToolUse,
		SessionID: "s1",
		ToolName:  "Bash",
		Params:    map[string]interface{}{"command": command},
	}
}

func readResult(result map[string]interface{}) *hook.Event {
	return &hook.Event{
		Kind:      hook.PostToolUse,
		SessionID: "s1",
		ToolName:  "Read",
		Result:    result,
	}
}

func TestRun_NoHookConfigured(t *testing.T) {
	r := newTestRunner(config.DefaultConfig())

	dec, err := r.Run(context.Background(), bashEvent("ls -la"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionAllow {
		t.Errorf("expected allow without external hook, got %s", dec.Action)
	}
}

func TestRun_DisabledHookIgnored(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hooks = map[string]config.HookCommand{
		string(hook.PreToolUse): {Command: `echo '{"action":"block","message":"no"}'`, Enabled: false},
	}
	r := newTestRunner(cfg)

	dec, err := r.Run(context.Background(), bashEvent("ls -la"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionAllow {
		t.Errorf("disabled hook should not run, got %s", dec.Action)
	}
}

func TestRun_ExternalHookDecisionWins(t *testing.T) {
	cfg := withHook(config.DefaultConfig(), hook.PreToolUse,
		`echo '{"action":"block","message":"external says no","rule":"ext-policy"}'`, 0)
	r := newTestRunner(cfg)

	dec, err := r.Run(context.Background(), bashEvent("ls -la"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionBlock {
		t.Fatalf("expected external block, got %s", dec.Action)
	}
	if dec.Message != "external says no" {
		t.Errorf("unexpected message: %q", dec.Message)
	}
	if dec.Rule != "ext-policy" {
		t.Errorf("expected rule ext-policy, got %q", dec.Rule)
	}
	if dec.Synthesized() {
		t.Error("external decision should not be synthesized")
	}
}

func TestRun_BuiltinBlockSkipsHook(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	cfg := withHook(config.DefaultConfig(), hook.PreToolUse,
		`echo ran > `+marker+` && echo '{"action":"allow"}'`, 0)
	r := newTestRunner(cfg)

	dec, err := r.Run(context.Background(), bashEvent("rm -rf /"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionBlock {
		t.Fatalf("expected built-in block, got %s", dec.Action)
	}
	if dec.Rule != "block-root-delete" {
		t.Errorf("expected rule block-root-delete, got %q", dec.Rule)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("external hook ran despite built-in block")
	}
}

func TestRun_ExternalBlockOnStop(t *testing.T) {
	cfg := withHook(config.DefaultConfig(), hook.Stop,
		`echo '{"action":"block","message":"keep working, the tests are red"}'`, 0)
	r := newTestRunner(cfg)

	dec, err := r.Run(context.Background(), &hook.Event{Kind: hook.Stop, SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionBlock {
		t.Fatalf("expected block from stop hook, got %s", dec.Action)
	}
	if !containsSub(dec.Message, "keep working") {
		t.Errorf("unexpected message: %q", dec.Message)
	}
}

func TestRun_ForwardsModifiedPrompt(t *testing.T) {
	seen := filepath.Join(t.TempDir(), "event.json")
	cfg := withHook(config.DefaultConfig(), hook.UserPromptSubmit,
		`cat > `+seen+` && echo '{"action":"continue"}'`, 0)
	r := newTestRunner(cfg)

	ev := &hook.Event{
		Kind:      hook.UserPromptSubmit,
		SessionID: "s1",
		Prompt:    "@security implement login",
	}
	dec, err := r.Run(context.Background(), ev)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, rerr := os.ReadFile(seen)
	if rerr != nil {
		t.Fatalf("hook did not capture its stdin: %v", rerr)
	}
	var fwd hook.Event
	if err := json.Unmarshal(data, &fwd); err != nil {
		t.Fatalf("forwarded event is not valid JSON: %v", err)
	}
	if !containsSub(fwd.Prompt, "input validation and sanitization") {
		t.Errorf("hook saw the unexpanded prompt: %q", fwd.Prompt)
	}
	if containsSub(fwd.Prompt, "@security") {
		t.Errorf("token not expanded in forwarded prompt: %q", fwd.Prompt)
	}

	if dec.Action != hook.ActionContinue {
		t.Fatalf("expected continue, got %s", dec.Action)
	}
	prompt, ok := dec.ModifiedPayload["prompt"].(string)
	if !ok {
		t.Fatal("built-in prompt rewrite lost after bare continue from hook")
	}
	if !containsSub(prompt, "input validation and sanitization") {
		t.Errorf("final payload lost the expansion: %q", prompt)
	}
	if dec.Rule != "prompt-transform" {
		t.Errorf("expected rule prompt-transform, got %q", dec.Rule)
	}
	if ev.Prompt != "@security implement login" {
		t.Errorf("original event mutated: %q", ev.Prompt)
	}
}

func TestRun_HookFailureMatrix(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		failMode    string
		wantAction  hook.Action
		wantFailure hook.FailureKind
		wantInMsg   string
	}{
		{
			name:        "garbage stdout fail closed",
			command:     `echo 'not json'`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
		},
		{
			name:        "garbage stdout fail open",
			command:     `echo 'not json'`,
			failMode:    config.FailModeOpen,
			wantAction:  hook.ActionAllow,
			wantFailure: hook.FailureMalformedDecision,
		},
		{
			name:        "unknown action",
			command:     `echo '{"action":"dance"}'`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
		},
		{
			name:        "block without message",
			command:     `echo '{"action":"block"}'`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
		},
		{
			name:        "action invalid for kind",
			command:     `echo '{"action":"retry","message":"again"}'`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
		},
		{
			name:        "silent success",
			command:     `true`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
			wantInMsg:   "no decision",
		},
		{
			name:        "non-zero exit",
			command:     `exit 3`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
			wantInMsg:   "exited with error",
		},
		{
			name:        "non-zero exit with stderr",
			command:     `echo boom >&2; exit 1`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureMalformedDecision,
			wantInMsg:   "boom",
		},
		{
			name:        "chained synthesized timeout fails open",
			command:     `echo '{"action":"block","message":"dispatch failure (hook_timeout): slow inner hook","failure":"hook_timeout"}'; exit 1`,
			failMode:    config.FailModeOpen,
			wantAction:  hook.ActionAllow,
			wantFailure: hook.FailureHookTimeout,
		},
		{
			name:        "chained synthesized timeout fails closed",
			command:     `echo '{"action":"block","message":"dispatch failure (hook_timeout): slow inner hook","failure":"hook_timeout"}'; exit 1`,
			failMode:    config.FailModeClosed,
			wantAction:  hook.ActionBlock,
			wantFailure: hook.FailureHookTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withHook(config.DefaultConfig(), hook.PreToolUse, tt.command, 0)
			cfg.Settings.FailMode = tt.failMode
			r := newTestRunner(cfg)

			dec, err := r.Run(context.Background(), bashEvent("ls -la"))
			if err == nil {
				t.Fatal("expected a dispatch error")
			}
			var derr *hook.DispatchError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DispatchError, got %T", err)
			}
			if derr.Failure != tt.wantFailure {
				t.Errorf("expected failure %s, got %s", tt.wantFailure, derr.Failure)
			}
			if dec.Action != tt.wantAction {
				t.Errorf("expected %s, got %s", tt.wantAction, dec.Action)
			}
			if !dec.Synthesized() {
				t.Error("expected a synthesized decision")
			}
			if tt.wantInMsg != "" && !containsSub(dec.Message, tt.wantInMsg) {
				t.Errorf("message %q does not contain %q", dec.Message, tt.wantInMsg)
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	tests := []struct {
		name       string
		failMode   string
		wantAction hook.Action
	}{
		{name: "fail closed", failMode: config.FailModeClosed, wantAction: hook.ActionBlock},
		{name: "fail open", failMode: config.FailModeOpen, wantAction: hook.ActionAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withHook(config.DefaultConfig(), hook.PreToolUse, `sleep 5`, 1)
			cfg.Settings.FailMode = tt.failMode
			r := newTestRunner(cfg)

			dec, err := r.Run(context.Background(), bashEvent("ls -la"))
			if err == nil {
				t.Fatal("expected a timeout error")
			}
			var derr *hook.DispatchError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DispatchError, got %T", err)
			}
			if derr.Failure != hook.FailureHookTimeout {
				t.Errorf("expected hook_timeout, got %s", derr.Failure)
			}
			if dec.Action != tt.wantAction {
				t.Errorf("expected %s, got %s", tt.wantAction, dec.Action)
			}
			if !containsSub(dec.Message, "timed out") {
				t.Errorf("unexpected message: %q", dec.Message)
			}
		})
	}
}

func TestRun_RetryBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.MaxRetries = 2
	r := newTestRunner(cfg)
	ctx := context.Background()

	failing := map[string]interface{}{"error": "disk full"}
	healthy := map[string]interface{}{"output": "file contents"}

	for i := 0; i < 2; i++ {
		dec, err := r.Run(ctx, readResult(failing))
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if dec.Action != hook.ActionRetry {
			t.Fatalf("attempt %d: expected retry, got %s", i, dec.Action)
		}
	}

	dec, err := r.Run(ctx, readResult(failing))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionBlock {
		t.Fatalf("expected block on exhausted budget, got %s", dec.Action)
	}
	if dec.Rule != checkRetryBudget {
		t.Errorf("expected rule %s, got %q", checkRetryBudget, dec.Rule)
	}
	if !containsSub(dec.Message, "retry budget exhausted") {
		t.Errorf("unexpected message: %q", dec.Message)
	}

	dec, err = r.Run(ctx, readResult(healthy))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionContinue {
		t.Fatalf("expected continue on healthy result, got %s", dec.Action)
	}

	// The healthy result cleared the streak, so the budget starts over
	dec, err = r.Run(ctx, readResult(failing))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionRetry {
		t.Errorf("expected retry after budget reset, got %s", dec.Action)
	}
}

func TestRun_RetryBudgetFailOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.FailMode = config.FailModeOpen
	cfg.Settings.MaxRetries = 1
	r := newTestRunner(cfg)
	ctx := context.Background()

	failing := map[string]interface{}{"error": "disk full"}

	dec, err := r.Run(ctx, readResult(failing))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionRetry {
		t.Fatalf("expected retry, got %s", dec.Action)
	}

	dec, err = r.Run(ctx, readResult(failing))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionContinue {
		t.Fatalf("expected continue under fail-open, got %s", dec.Action)
	}
	if !containsSub(dec.Message, "fail-open") {
		t.Errorf("unexpected message: %q", dec.Message)
	}
}

type stubHistory struct {
	actions  []string
	gotKind  string
	gotLimit int
}

func (h *stubHistory) RecentActions(sessionID, toolName, eventKind string, limit int) ([]string, error) {
	h.gotKind = eventKind
	h.gotLimit = limit
	return h.actions, nil
}

func TestRun_RetryBudgetResumesFromHistory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.MaxRetries = 2
	hist := &stubHistory{actions: []string{"retry", "retry"}}
	r := NewWithHistory(cfg, dispatch.New(cfg), hist)

	dec, err := r.Run(context.Background(), readResult(map[string]interface{}{"error": "disk full"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionBlock {
		t.Fatalf("expected immediate exhaustion from history, got %s", dec.Action)
	}
	if hist.gotKind != string(hook.PostToolUse) {
		t.Errorf("history queried for kind %q", hist.gotKind)
	}
	if hist.gotLimit != 3 {
		t.Errorf("history queried with limit %d", hist.gotLimit)
	}
}

func TestRun_RetryBudgetHistoryStreakBroken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.MaxRetries = 2
	hist := &stubHistory{actions: []string{"retry", "continue", "retry"}}
	r := NewWithHistory(cfg, dispatch.New(cfg), hist)

	dec, err := r.Run(context.Background(), readResult(map[string]interface{}{"error": "disk full"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dec.Action != hook.ActionRetry {
		t.Errorf("one recorded retry should leave budget, got %s", dec.Action)
	}
}

func TestRunRaw_UnparseablePayload(t *testing.T) {
	r := newTestRunner(config.DefaultConfig())

	dec, err := r.RunRaw(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error for an empty event")
	}
	var derr *hook.DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispatchError, got %T", err)
	}
	if derr.Failure != hook.FailureUnknownEventKind {
		t.Errorf("expected unknown_event_kind, got %s", derr.Failure)
	}
	if dec.Action != hook.ActionBlock {
		t.Errorf("expected block, got %s", dec.Action)
	}
}

func containsSub(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
