package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLSink_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = sink.Record(&Entry{SessionID: "session-1", EventKind: "PreToolUse", ToolName: "Bash", Action: "block", Rule: "block-root-delete"})
	if err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}
	err = sink.Record(&Entry{SessionID: "session-1", EventKind: "Stop", Action: "allow"})
	if err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Failed to close sink: %v", err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "block" || entries[0].Rule != "block-root-delete" {
		t.Errorf("First entry lost decision fields: %+v", entries[0])
	}
	if entries[0].ID == "" {
		t.Error("Expected entry ID to be assigned")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("Expected entry timestamp to be assigned")
	}
}

func TestJSONLSink_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewJSONLSink(path)
		if err != nil {
			t.Fatalf("Failed to create sink: %v", err)
		}
		if err := sink.Record(&Entry{SessionID: "session-1", EventKind: "Notification", Action: "continue"}); err != nil {
			t.Fatalf("Failed to record entry: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Failed to close sink: %v", err)
		}
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected entries to accumulate across opens, got %d", len(entries))
	}
}

func TestJSONLSink_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.jsonl")

	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer sink.Close()

	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		t.Error("Parent directory was not created")
	}
}

func TestReadEntries_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	content := `{"id":"a","session_id":"s","event_kind":"Stop","action":"allow","elapsed_ms":0,"created_at":"2026-08-25T10:00:00Z"}
not json at all
{"id":"b","session_id":"s","event_kind":"Stop","action":"block","elapsed_ms":1,"created_at":"2026-08-25T10:00:01Z"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "a" || entries[1].ID != "b" {
		t.Errorf("Unexpected entries: %v, %v", entries[0], entries[1])
	}
}

func TestReadEntries_MissingFile(t *testing.T) {
	_, err := ReadEntries(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNewMulti(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	if got := NewMulti(nil, nil); got != nil {
		t.Errorf("Expected nil for no sinks, got %v", got)
	}
	if got := NewMulti(nil, sink); got != sink {
		t.Errorf("Expected single sink to be returned as-is, got %v", got)
	}

	store := newTestStore(t)
	multi := NewMulti(sink, store)
	if _, ok := multi.(*MultiSink); !ok {
		t.Fatalf("Expected MultiSink, got %T", multi)
	}

	if err := multi.Record(&Entry{SessionID: "session-1", EventKind: "Stop", Action: "allow"}); err != nil {
		t.Fatalf("Failed to record through multi sink: %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Failed to close sink: %v", err)
	}
	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry in JSONL log, got %d", len(entries))
	}

	stored, err := store.SessionEntries("session-1", 10)
	if err != nil {
		t.Fatalf("Failed to get stored entries: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("Expected 1 entry in store, got %d", len(stored))
	}
	if stored[0].ID != entries[0].ID {
		t.Errorf("Expected both sinks to see the same stamped ID, got %q and %q", stored[0].ID, entries[0].ID)
	}
}
