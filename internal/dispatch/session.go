package dispatch

import (
	"fmt"

	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

const checkSessionContext = "session-context"

// evalSessionStart acknowledges a new session, injecting configured context
// into the payload when any is set
func (d *Dispatcher) evalSessionStart(ev *hook.Event) *hook.Decision {
	if ctx := d.cfg.Settings.SessionContext; ctx != "" {
		logger.Debug().Str("session", ev.SessionID).Msg("Injecting session context")
		return hook.ContinueWith(checkSessionContext, "session context injected",
			map[string]interface{}{"context": ctx})
	}
	return hook.Continue("")
}

// evalStop gates Stop and SubagentStop. Stops are allowed unless a configured
// stop guard matches, which lets operators keep a session working until its
// params carry whatever the guard demands.
func (d *Dispatcher) evalStop(ev *hook.Event) (*hook.Decision, *hook.DispatchError) {
	for i := range d.cfg.StopGuards {
		guard := &d.cfg.StopGuards[i]
		if !guard.Enabled {
			continue
		}
		result, err := d.matcher.MatchRule(guard, ev.Params)
		if err != nil {
			return nil, hook.Failf(hook.FailureRuleEvaluation, "stop guard %q: %v", guard.Name, err)
		}
		if result == nil || !result.Matched {
			continue
		}
		if guard.Blocking() {
			logger.Info().Str("guard", guard.Name).Str("kind", string(ev.Kind)).
				Msg("Stop blocked by guard")
			msg := guard.Message
			if msg == "" {
				msg = fmt.Sprintf("stop blocked by guard %q", guard.Name)
			}
			return hook.Block(guard.Name, msg), nil
		}
		logger.Warn().Str("guard", guard.Name).Str("severity", guard.Severity).
			Msg("Stop guard matched")
	}
	return hook.Allow("stop permitted"), nil
}

func (d *Dispatcher) evalNotification(ev *hook.Event) *hook.Decision {
	logger.Debug().Str("session", ev.SessionID).Msg("Notification acknowledged")
	return hook.Continue("")
}

func (d *Dispatcher) evalPreCompact(ev *hook.Event) *hook.Decision {
	logger.Debug().Str("session", ev.SessionID).Msg("Compaction acknowledged")
	return hook.Continue("")
}
