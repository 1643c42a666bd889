package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/dispatch"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

const (
	checkRetryBudget = "retry-budget"

	defaultHookTimeout = 30 * time.Second
)

// History resumes retry counts from a persisted audit trail. Satisfied by
// *audit.Store. Each dispatch normally runs in a fresh process, so without
// history the retry budget only binds within a single process lifetime.
type History interface {
	RecentActions(sessionID, toolName, eventKind string, limit int) ([]string, error)
}

// Runner is the host half of the contract: it evaluates the built-in policy
// first, then hands the event to the external hook command configured for its
// kind, and resolves whatever comes back into exactly one final decision. It
// is the only component that spawns processes.
type Runner struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	history    History

	mu      sync.Mutex
	retries map[budgetKey]int
}

type budgetKey struct {
	session string
	tool    string
}

// New creates a runner around an already-configured dispatcher
func New(cfg *config.Config, d *dispatch.Dispatcher) *Runner {
	return &Runner{
		cfg:        cfg,
		dispatcher: d,
		retries:    make(map[budgetKey]int),
	}
}

// NewWithHistory creates a runner that seeds retry counts from recorded
// invocations. h may be nil.
func NewWithHistory(cfg *config.Config, d *dispatch.Dispatcher, h History) *Runner {
	r := New(cfg, d)
	r.history = h
	return r
}

// RunRaw parses a raw event payload and runs it through the full pipeline.
// Payloads the dispatcher cannot even classify are resolved by the dispatcher
// alone: there is no event to hand to an external hook.
func (r *Runner) RunRaw(ctx context.Context, raw []byte) (*hook.Decision, error) {
	ev, derr := hook.ParseEvent(raw)
	if derr != nil {
		return r.dispatcher.DispatchRaw(raw)
	}
	return r.Run(ctx, ev)
}

// Run evaluates the built-in policy and then the external hook for the event
// kind, if one is configured. A built-in block is final: the external hook
// never sees a rejected event. On a dispatch failure the returned decision is
// the synthesized verdict and the error carries the classification.
func (r *Runner) Run(ctx context.Context, ev *hook.Event) (*hook.Decision, error) {
	builtin, err := r.dispatcher.Dispatch(ev)
	if err != nil {
		return builtin, err
	}
	if builtin.Action == hook.ActionBlock {
		return r.resolveRetry(ev, builtin), nil
	}

	hc, ok := r.hookFor(ev.Kind)
	if !ok {
		return r.resolveRetry(ev, builtin), nil
	}

	input, merr := json.Marshal(forwarded(ev, builtin))
	if merr != nil {
		logger.Warn().
			Err(merr).
			Str("kind", string(ev.Kind)).
			Msg("Event not encodable, external hook skipped")
		return r.resolveRetry(ev, builtin), nil
	}

	external, derr := r.execute(ctx, ev.Kind, hc, input)
	if derr != nil {
		dec := hook.Synthesize(derr, r.cfg.FailOpen())
		logger.Error().
			Str("kind", string(ev.Kind)).
			Str("failure", string(derr.Failure)).
			Str("detail", derr.Detail).
			Msg("External hook failed, decision synthesized")
		return dec, derr
	}

	logger.Info().
		Str("kind", string(ev.Kind)).
		Str("action", string(external.Action)).
		Str("rule", external.Rule).
		Msg("External hook decision")

	return r.resolveRetry(ev, combine(builtin, external)), nil
}

// hookFor returns the enabled hook command for an event kind
func (r *Runner) hookFor(kind hook.EventKind) (config.HookCommand, bool) {
	hc, ok := r.cfg.Hooks[string(kind)]
	if !ok || !hc.Enabled || hc.Command == "" {
		return config.HookCommand{}, false
	}
	return hc, true
}

// timeoutFor resolves the per-hook timeout, falling back to the global
// settings value
func (r *Runner) timeoutFor(hc config.HookCommand) time.Duration {
	secs := hc.Timeout
	if secs <= 0 {
		secs = r.cfg.Settings.TimeoutSeconds
	}
	if secs <= 0 {
		return defaultHookTimeout
	}
	return time.Duration(secs) * time.Second
}

// forwarded returns the event as the external hook should see it: a copy
// with the built-in decision's payload modifications folded in. The original
// event is never mutated.
func forwarded(ev *hook.Event, dec *hook.Decision) *hook.Event {
	if len(dec.ModifiedPayload) == 0 {
		return ev
	}
	fwd := *ev
	switch ev.Kind {
	case hook.PreToolUse:
		if params, ok := dec.ModifiedPayload["params"].(map[string]interface{}); ok {
			fwd.Params = params
		}
	case hook.UserPromptSubmit:
		if prompt, ok := dec.ModifiedPayload["prompt"].(string); ok {
			fwd.Prompt = prompt
		}
	case hook.PostToolUse:
		if result, ok := dec.ModifiedPayload["result"].(map[string]interface{}); ok {
			fwd.Result = result
		}
	}
	return &fwd
}

// combine resolves the built-in and external decisions into one. The external
// hook saw the event with built-in modifications already applied, so its
// decision wins outright; but a bare continue from the hook must not drop a
// payload the built-in stage produced.
func combine(builtin, external *hook.Decision) *hook.Decision {
	if len(builtin.ModifiedPayload) == 0 || len(external.ModifiedPayload) > 0 {
		return external
	}
	if external.Action != hook.ActionContinue {
		return external
	}
	merged := *external
	merged.ModifiedPayload = builtin.ModifiedPayload
	if merged.Rule == "" {
		merged.Rule = builtin.Rule
	}
	return &merged
}

// resolveRetry enforces the retry budget on PostToolUse decisions. Retries
// are counted per (session, tool); a non-retry decision clears the streak.
// An exhausted budget is resolved per the fail policy with its own message so
// the host can tell it apart from an ordinary retry or rule match.
func (r *Runner) resolveRetry(ev *hook.Event, dec *hook.Decision) *hook.Decision {
	if ev.Kind != hook.PostToolUse {
		return dec
	}

	key := budgetKey{session: ev.SessionID, tool: ev.ToolName}
	r.mu.Lock()
	defer r.mu.Unlock()

	if dec.Action != hook.ActionRetry {
		delete(r.retries, key)
		return dec
	}

	used, ok := r.retries[key]
	if !ok && r.history != nil {
		used = r.recordedRetries(ev.SessionID, ev.ToolName)
	}

	if used >= r.cfg.Settings.MaxRetries {
		msg := fmt.Sprintf("tool %s still failing after %d retries; retry budget exhausted", ev.ToolName, used)
		logger.Warn().
			Str("session", ev.SessionID).
			Str("tool", ev.ToolName).
			Int("retries", used).
			Msg("Retry budget exhausted")
		if r.cfg.FailOpen() {
			return hook.Continue(msg + ", continuing per fail-open policy")
		}
		return hook.Block(checkRetryBudget, msg)
	}

	r.retries[key] = used + 1
	return dec
}

// recordedRetries counts the consecutive retry decisions most recently
// recorded for a session and tool. Called with the mutex held.
func (r *Runner) recordedRetries(sessionID, toolName string) int {
	limit := r.cfg.Settings.MaxRetries + 1
	actions, err := r.history.RecentActions(sessionID, toolName, string(hook.PostToolUse), limit)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read retry history")
		return 0
	}
	count := 0
	for _, a := range actions {
		if a != string(hook.ActionRetry) {
			break
		}
		count++
	}
	return count
}
