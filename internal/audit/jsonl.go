package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink appends entries to a newline-delimited JSON file. Appends are
// synchronous: one short line per decision, crash-safe via O_APPEND.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink opens (and if needed creates) a JSONL audit log
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &JSONLSink{file: f}, nil
}

// Record appends one entry. Implements Sink.
func (s *JSONLSink) Record(entry *Entry) error {
	entry.stamp()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Close closes the log file
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadEntries reads every entry from a JSONL audit log. Malformed lines are
// skipped rather than failing the whole read.
func ReadEntries(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to scan audit log: %w", err)
	}
	return entries, nil
}
