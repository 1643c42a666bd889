package dispatch

import (
	"encoding/json"
	"time"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/cache"
	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

// Dispatcher validates lifecycle events and produces exactly one decision
// per event. It is a pure function of the event content and the loaded
// config: no network, no clock-dependent behavior in the verdict.
type Dispatcher struct {
	cfg     *config.Config
	matcher *Matcher
	sink    audit.Sink
	cache   *cache.Cache
}

// New creates a dispatcher
func New(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		matcher: NewMatcher(),
	}
}

// NewWithObservers creates a dispatcher that records invocations to an audit
// sink and reuses decisions from a cache. Either may be nil.
func NewWithObservers(cfg *config.Config, sink audit.Sink, c *cache.Cache) *Dispatcher {
	d := New(cfg)
	d.sink = sink
	d.cache = c
	return d
}

// Config returns the config the dispatcher evaluates against
func (d *Dispatcher) Config() *config.Config {
	return d.cfg
}

// DispatchRaw parses a raw event payload and dispatches it. On a dispatch
// failure the returned decision is the synthesized verdict and the error
// carries the failure classification; both are non-nil.
func (d *Dispatcher) DispatchRaw(raw []byte) (*hook.Decision, error) {
	start := time.Now()

	ev, derr := hook.ParseEvent(raw)
	if derr != nil {
		dec := hook.Synthesize(derr, d.cfg.FailOpen())
		logger.Warn().
			Str("failure", string(derr.Failure)).
			Str("detail", derr.Detail).
			Msg("Event rejected")
		d.record(nil, raw, dec, time.Since(start))
		return dec, derr
	}

	return d.dispatch(ev, raw, start)
}

// Dispatch validates and evaluates a decoded event
func (d *Dispatcher) Dispatch(ev *hook.Event) (*hook.Decision, error) {
	start := time.Now()

	if derr := ev.Validate(); derr != nil {
		dec := hook.Synthesize(derr, d.cfg.FailOpen())
		logger.Warn().
			Str("failure", string(derr.Failure)).
			Str("detail", derr.Detail).
			Msg("Event rejected")
		d.record(ev, nil, dec, time.Since(start))
		return dec, derr
	}

	return d.dispatch(ev, nil, start)
}

func (d *Dispatcher) dispatch(ev *hook.Event, raw []byte, start time.Time) (*hook.Decision, error) {
	logger.Debug().
		Str("kind", string(ev.Kind)).
		Str("session", ev.SessionID).
		Str("tool", ev.ToolName).
		Msg("Dispatching event")

	cacheKey := ""
	if d.cache != nil && ev.Kind == hook.PreToolUse && d.profileFor(ev.ToolName).Cacheable {
		cacheKey = cache.Key(string(ev.Kind), ev.ToolName, ev.Params)
		if dec, ok := d.cache.Get(cacheKey); ok {
			logger.Debug().Str("tool", ev.ToolName).Msg("Decision served from cache")
			d.record(ev, raw, dec, time.Since(start))
			return dec, nil
		}
	}

	var dec *hook.Decision
	var derr *hook.DispatchError

	switch ev.Kind {
	case hook.SessionStart:
		dec = d.evalSessionStart(ev)
	case hook.UserPromptSubmit:
		dec, derr = d.evalUserPrompt(ev)
	case hook.PreToolUse:
		dec, derr = d.evalPreToolUse(ev)
	case hook.PostToolUse:
		dec, derr = d.evalPostToolUse(ev)
	case hook.Notification:
		dec = d.evalNotification(ev)
	case hook.Stop, hook.SubagentStop:
		dec, derr = d.evalStop(ev)
	case hook.PreCompact:
		dec = d.evalPreCompact(ev)
	}

	if derr != nil {
		dec = hook.Synthesize(derr, d.cfg.FailOpen())
		logger.Error().
			Str("kind", string(ev.Kind)).
			Str("failure", string(derr.Failure)).
			Str("detail", derr.Detail).
			Msg("Dispatch failed, decision synthesized")
		d.record(ev, raw, dec, time.Since(start))
		return dec, derr
	}

	if cacheKey != "" {
		d.cache.Set(cacheKey, dec)
	}

	logger.Info().
		Str("kind", string(ev.Kind)).
		Str("action", string(dec.Action)).
		Str("rule", dec.Rule).
		Msg("Decision made")

	d.record(ev, raw, dec, time.Since(start))
	return dec, nil
}

// record writes the invocation to the audit sink when one is wired
func (d *Dispatcher) record(ev *hook.Event, raw []byte, dec *hook.Decision, elapsed time.Duration) {
	if d.sink == nil {
		return
	}

	entry := &audit.Entry{
		SessionID:   "unknown",
		Action:      string(dec.Action),
		Rule:        dec.Rule,
		Failure:     string(dec.Failure),
		Synthesized: dec.Synthesized(),
		Message:     dec.Message,
		ElapsedMS:   elapsed.Milliseconds(),
	}
	if ev != nil {
		if ev.SessionID != "" {
			entry.SessionID = ev.SessionID
		}
		entry.EventKind = string(ev.Kind)
		entry.ToolName = ev.ToolName
	}

	if raw == nil && ev != nil {
		if data, err := json.Marshal(ev); err == nil {
			raw = data
		}
	}
	entry.Event = raw
	if data, err := json.Marshal(dec); err == nil {
		entry.Decision = data
	}

	if err := d.sink.Record(entry); err != nil {
		logger.Warn().Err(err).Msg("Failed to record audit entry")
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
