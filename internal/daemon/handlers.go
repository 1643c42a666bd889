package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
)

// maxEventBytes bounds the dispatch endpoint request body
const maxEventBytes = 1 << 20

// Handlers contains the HTTP handlers for the daemon API
type Handlers struct {
	daemon    *Daemon
	startedAt time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(d *Daemon) *Handlers {
	return &Handlers{
		daemon:    d,
		startedAt: time.Now(),
	}
}

// Health handles the health check endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   h.daemon.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sessions handles the sessions list endpoint
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	store := h.daemon.Store()
	if store == nil {
		writeJSON(w, http.StatusOK, []SessionResponse{})
		return
	}

	sessions, err := store.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			SessionID:   s.SessionID,
			FirstSeenAt: s.FirstSeenAt,
			LastSeenAt:  s.LastSeenAt,
			Invocations: s.Invocations,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// SessionTimeline handles the per-session timeline endpoint. Entries come
// back in chronological order.
func (h *Handlers) SessionTimeline(w http.ResponseWriter, r *http.Request) {
	store := h.daemon.Store()
	if store == nil {
		writeJSON(w, http.StatusOK, []InvocationResponse{})
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	entries, err := store.SessionEntries(sessionID, limitParam(r, 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, invocationResponses(entries))
}

// Recent handles the recent invocations endpoint, newest first
func (h *Handlers) Recent(w http.ResponseWriter, r *http.Request) {
	store := h.daemon.Store()
	if store == nil {
		writeJSON(w, http.StatusOK, []InvocationResponse{})
		return
	}

	entries, err := store.RecentEntries(limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, invocationResponses(entries))
}

// Rules handles the effective rules endpoint
func (h *Handlers) Rules(w http.ResponseWriter, r *http.Request) {
	cfg := h.daemon.Config()

	resp := []RuleResponse{}
	addRules := func(rules []config.Rule, scope string) {
		for _, rule := range rules {
			severity := config.SeverityBlock
			if !rule.Blocking() {
				severity = config.SeverityWarn
			}
			resp = append(resp, RuleResponse{
				Name:        rule.Name,
				Description: rule.Description,
				Enabled:     rule.Enabled,
				Scope:       scope,
				Severity:    severity,
				Tools:       rule.Tools,
				Field:       rule.Field,
				Pattern:     rule.Pattern,
			})
		}
	}

	addRules(cfg.Rules, string(hook.PreToolUse))
	addRules(cfg.PromptRules, string(hook.UserPromptSubmit))
	addRules(cfg.StopGuards, string(hook.Stop))

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles the aggregate statistics endpoint
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ByAction: make(map[string]int64),
		FailMode: h.daemon.Config().Settings.FailMode,
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
	}

	store := h.daemon.Store()
	if store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	stats, err := store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp.Sessions = stats.Sessions
	resp.Invocations = stats.Invocations
	resp.Synthesized = stats.Synthesized
	for action, n := range stats.ByAction {
		resp.ByAction[action] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

// Dispatch handles the in-process dispatch endpoint: an event in the request
// body, the decision in the response body. A dispatch failure reports 502 so
// socket hosts get the same signal a spawned hook gives with a non-zero
// exit; the body is still the synthesized decision.
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read event payload")
		return
	}

	dec, runErr := h.daemon.Runner().RunRaw(r.Context(), body)
	if dec == nil {
		writeError(w, http.StatusInternalServerError, "no decision produced")
		return
	}

	status := http.StatusOK
	if runErr != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, dec)
}

// Export handles the invocations export endpoint
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	store := h.daemon.Store()
	if store == nil {
		writeError(w, http.StatusNotFound, "audit store not enabled")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	limit := limitParam(r, 10000)

	var entries []*audit.Entry
	var err error
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		entries, err = store.SessionEntries(sessionID, limit)
	} else {
		entries, err = store.RecentEntries(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format {
	case "csv":
		exportCSV(w, entries)
	default:
		exportJSON(w, entries)
	}
}

func exportJSON(w http.ResponseWriter, entries []*audit.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=hookgate-invocations.json")
	_ = json.NewEncoder(w).Encode(invocationResponses(entries))
}

func exportCSV(w http.ResponseWriter, entries []*audit.Entry) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=hookgate-invocations.csv")

	_, _ = w.Write([]byte("id,session_id,event_kind,tool_name,action,rule,failure,synthesized,message,created_at\n"))

	for _, e := range entries {
		line := fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%t,%s,%s\n",
			csvEscape(e.ID),
			csvEscape(e.SessionID),
			csvEscape(e.EventKind),
			csvEscape(e.ToolName),
			csvEscape(e.Action),
			csvEscape(e.Rule),
			csvEscape(e.Failure),
			e.Synthesized,
			csvEscape(e.Message),
			e.CreatedAt.Format(time.RFC3339),
		)
		_, _ = w.Write([]byte(line))
	}
}

func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
}

func invocationResponses(entries []*audit.Entry) []InvocationResponse {
	resp := make([]InvocationResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, invocationResponse(e))
	}
	return resp
}

func limitParam(r *http.Request, fallback int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
