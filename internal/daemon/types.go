package daemon

import (
	"time"

	"github.com/loopworks/hookgate/internal/audit"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// SessionResponse represents a session in API responses
type SessionResponse struct {
	SessionID   string    `json:"session_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Invocations int64     `json:"invocations"`
}

// InvocationResponse represents one audited dispatch in API responses
type InvocationResponse struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	EventKind   string    `json:"event_kind"`
	ToolName    string    `json:"tool_name,omitempty"`
	Action      string    `json:"action"`
	Rule        string    `json:"rule,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	Synthesized bool      `json:"synthesized,omitempty"`
	Message     string    `json:"message,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleResponse represents an effective rule in API responses
type RuleResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Scope       string   `json:"scope"`
	Severity    string   `json:"severity"`
	Tools       []string `json:"tools,omitempty"`
	Field       string   `json:"field,omitempty"`
	Pattern     string   `json:"pattern"`
}

// StatsResponse represents aggregate statistics
type StatsResponse struct {
	Sessions    int64            `json:"sessions"`
	Invocations int64            `json:"invocations"`
	Synthesized int64            `json:"synthesized"`
	ByAction    map[string]int64 `json:"by_action"`
	FailMode    string           `json:"fail_mode"`
	Uptime      string           `json:"uptime"`
}

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSE event types
const (
	SSEInvocation = "invocation"
	SSEBlocked    = "blocked"
	SSEHeartbeat  = "heartbeat"
)

func invocationResponse(e *audit.Entry) InvocationResponse {
	return InvocationResponse{
		ID:          e.ID,
		SessionID:   e.SessionID,
		EventKind:   e.EventKind,
		ToolName:    e.ToolName,
		Action:      e.Action,
		Rule:        e.Rule,
		Failure:     e.Failure,
		Synthesized: e.Synthesized,
		Message:     e.Message,
		ElapsedMS:   e.ElapsedMS,
		CreatedAt:   e.CreatedAt,
	}
}
