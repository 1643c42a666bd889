package audit

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry is one dispatched event together with the decision returned for it
type Entry struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	EventKind   string          `json:"event_kind"`
	ToolName    string          `json:"tool_name,omitempty"`
	Action      string          `json:"action"`
	Rule        string          `json:"rule,omitempty"`
	Failure     string          `json:"failure,omitempty"`
	Synthesized bool            `json:"synthesized,omitempty"`
	Message     string          `json:"message,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Event       json.RawMessage `json:"event,omitempty"`
	Decision    json.RawMessage `json:"decision,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// stamp assigns an ID and timestamp to entries that arrive without them
func (e *Entry) stamp() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
}

// Sink records dispatch outcomes. Implementations must be safe for concurrent
// use and must never block the decision path for long.
type Sink interface {
	Record(entry *Entry) error
	Close() error
}

// MultiSink fans every entry out to all configured sinks
type MultiSink struct {
	sinks []Sink
}

// NewMulti combines sinks into one. Nil sinks are skipped; a single survivor
// is returned as-is.
func NewMulti(sinks ...Sink) Sink {
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return &MultiSink{sinks: active}
}

// Record delivers the entry to every sink and reports every failure
func (m *MultiSink) Record(entry *Entry) error {
	entry.stamp()
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
