package dispatch

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/cache"
	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
)

func testDispatcher() *Dispatcher {
	return New(config.DefaultConfig())
}

func TestDispatchRaw_MissingEventKind(t *testing.T) {
	d := testDispatcher()

	dec, err := d.DispatchRaw([]byte(`{"session_id":"s1","tool_name":"Bash"}`))
	if err == nil {
		t.Fatal("expected error for event without event_kind")
	}

	var derr *hook.DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispatchError, got %T", err)
	}
	if derr.Failure != hook.FailureUnknownEventKind {
		t.Errorf("expected unknown_event_kind, got %q", derr.Failure)
	}

	if dec == nil {
		t.Fatal("expected a synthesized decision alongside the error")
	}
	if dec.Action != hook.ActionBlock {
		t.Errorf("expected block under fail-closed, got %q", dec.Action)
	}
	if dec.Failure != hook.FailureUnknownEventKind {
		t.Errorf("expected failure tag on decision, got %q", dec.Failure)
	}
	if dec.Rule != "" {
		t.Errorf("synthesized decision must not claim a rule, got %q", dec.Rule)
	}
	if !dec.Synthesized() {
		t.Error("expected decision to report itself synthesized")
	}
}

func TestDispatchRaw_InvalidJSON(t *testing.T) {
	d := testDispatcher()

	dec, err := d.DispatchRaw([]byte(`{"event_kind": `))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if dec == nil || dec.Action != hook.ActionBlock {
		t.Fatalf("expected synthesized block, got %v", dec)
	}
	if dec.Failure != hook.FailureUnknownEventKind {
		t.Errorf("expected unknown_event_kind, got %q", dec.Failure)
	}
}

func TestDispatchRaw_EmptyPayload(t *testing.T) {
	d := testDispatcher()

	dec, err := d.DispatchRaw([]byte("  \n"))
	if err == nil {
		t.Fatal("expected error for empty payload")
	}
	if dec == nil || dec.Failure != hook.FailureUnknownEventKind {
		t.Fatalf("expected unknown_event_kind decision, got %v", dec)
	}
}

func TestDispatch_MissingToolName(t *testing.T) {
	d := testDispatcher()

	dec, err := d.Dispatch(&hook.Event{Kind: hook.PreToolUse, SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error for PreToolUse without tool_name")
	}

	var derr *hook.DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispatchError, got %T", err)
	}
	if derr.Failure != hook.FailureMissingRequiredField {
		t.Errorf("expected missing_required_field, got %q", derr.Failure)
	}
	if dec.Action != hook.ActionBlock {
		t.Errorf("expected block, got %q", dec.Action)
	}
	if dec.Failure != hook.FailureMissingRequiredField {
		t.Errorf("expected failure tag, got %q", dec.Failure)
	}
}

func TestDispatch_UnrecognizedKindBlocksEvenFailOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Settings.FailMode = config.FailModeOpen
	d := New(cfg)

	dec, err := d.Dispatch(&hook.Event{Kind: "Telemetry", SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error for unrecognized kind")
	}
	if dec.Action != hook.ActionBlock {
		t.Errorf("unrecognized kinds must block even under fail-open, got %q", dec.Action)
	}
}

func TestDispatch_SameEventSameRule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rules = []config.Rule{
		{Name: "first", Enabled: true, Pattern: "deploy", Field: "command"},
		{Name: "second", Enabled: true, Pattern: "deploy .*prod", Field: "command"},
	}
	d := New(cfg)

	ev := &hook.Event{
		Kind:     hook.PreToolUse,
		ToolName: "Bash",
		Params:   map[string]interface{}{"command": "deploy --env prod"},
	}

	for i := 0; i < 10; i++ {
		dec, err := d.Dispatch(ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dec.Action != hook.ActionBlock {
			t.Fatalf("expected block, got %q", dec.Action)
		}
		if dec.Rule != "first" {
			t.Errorf("iteration %d: expected first declared rule to win, got %q", i, dec.Rule)
		}
	}
}

func TestDispatch_CacheServesRepeatDecision(t *testing.T) {
	c := cache.New(16, time.Minute)
	d := NewWithObservers(config.DefaultConfig(), nil, c)

	ev := &hook.Event{
		Kind:      hook.PreToolUse,
		SessionID: "s1",
		ToolName:  "Bash",
		Params:    map[string]interface{}{"command": "ls -la"},
	}

	first, err := d.Dispatch(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Dispatch(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Action != hook.ActionAllow || second.Action != hook.ActionAllow {
		t.Fatalf("expected allow decisions, got %q and %q", first.Action, second.Action)
	}

	stats := c.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Hits != 1 {
		t.Errorf("expected repeat dispatch to hit the cache, got %d hits", stats.Hits)
	}
}

func TestDispatch_UncacheableToolSkipsCache(t *testing.T) {
	c := cache.New(16, time.Minute)
	d := NewWithObservers(config.DefaultConfig(), nil, c)

	// WebFetch is not marked cacheable in the default profiles
	ev := &hook.Event{
		Kind:     hook.PreToolUse,
		ToolName: "WebFetch",
		Params:   map[string]interface{}{"url": "https://example.com"},
	}

	if _, err := d.Dispatch(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Dispatch(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("expected cache untouched, got %+v", stats)
	}
}

func TestDispatch_RecordsAuditEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.NewJSONLSink(path)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}
	d := NewWithObservers(config.DefaultConfig(), sink, nil)

	_, err = d.Dispatch(&hook.Event{
		Kind:      hook.PreToolUse,
		SessionID: "s1",
		ToolName:  "Bash",
		Params:    map[string]interface{}{"command": "rm -rf /"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %v", err)
	}

	entries, err := audit.ReadEntries(path)
	if err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.SessionID != "s1" {
		t.Errorf("expected session s1, got %q", entry.SessionID)
	}
	if entry.EventKind != "PreToolUse" || entry.ToolName != "Bash" {
		t.Errorf("entry lost event coordinates: %+v", entry)
	}
	if entry.Action != "block" || entry.Rule != "block-root-delete" {
		t.Errorf("expected blocked root delete, got action %q rule %q", entry.Action, entry.Rule)
	}
	if entry.Synthesized {
		t.Error("rule verdict must not be marked synthesized")
	}
	if len(entry.Event) == 0 || len(entry.Decision) == 0 {
		t.Error("expected entry to carry event and decision documents")
	}
}

func TestDispatch_RecordsSynthesizedEntryWithUnknownSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.NewJSONLSink(path)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}
	d := NewWithObservers(config.DefaultConfig(), sink, nil)

	if _, err := d.DispatchRaw([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty event")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %v", err)
	}

	entries, err := audit.ReadEntries(path)
	if err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.SessionID != "unknown" {
		t.Errorf("expected unknown session placeholder, got %q", entry.SessionID)
	}
	if !entry.Synthesized {
		t.Error("expected synthesized entry")
	}
	if entry.Failure != string(hook.FailureUnknownEventKind) {
		t.Errorf("expected unknown_event_kind, got %q", entry.Failure)
	}
}

func TestDispatcher_Config(t *testing.T) {
	cfg := config.DefaultConfig()
	d := New(cfg)
	if d.Config() != cfg {
		t.Error("expected Config to return the dispatch config")
	}
}

// containsString checks if a string contains a substring
func containsString(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		findSubstring(s, substr))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
