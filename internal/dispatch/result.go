package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

// Redacted is the replacement for any result value matching a sensitive
// marker. The whole value is replaced, never a substring: partial redaction
// leaks length and structure.
const Redacted = "[REDACTED]"

const checkRedaction = "redact-sensitive"

// evalPostToolUse validates a tool result. Missing or failed results ask the
// host for a retry (the runner enforces the budget); otherwise the result is
// scanned for sensitive markers and matching values are redacted.
func (d *Dispatcher) evalPostToolUse(ev *hook.Event) (*hook.Decision, *hook.DispatchError) {
	if len(ev.Result) == 0 {
		logger.Info().Str("tool", ev.ToolName).Msg("Tool result missing, requesting retry")
		return hook.Retry("tool result is missing; requesting retry"), nil
	}

	if reason := errorIndicator(ev.Result); reason != "" {
		logger.Info().Str("tool", ev.ToolName).Str("reason", truncate(reason, 100)).
			Msg("Tool reported a failure, requesting retry")
		return hook.Retry(fmt.Sprintf("tool execution failed (%s); requesting retry", truncate(reason, 200))), nil
	}

	redacted, count, derr := d.redactResult(ev.Result)
	if derr != nil {
		return nil, derr
	}

	if count > 0 {
		logger.Info().Str("tool", ev.ToolName).Int("redacted", count).
			Msg("Sensitive values redacted from tool result")
		return hook.ContinueWith(checkRedaction,
			fmt.Sprintf("redacted %d sensitive value(s) from the tool result", count),
			map[string]interface{}{"result": redacted}), nil
	}

	return hook.Continue(""), nil
}

// errorIndicator returns a non-empty reason when the result reports a failed
// tool execution
func errorIndicator(result map[string]interface{}) string {
	if s, ok := result["error"].(string); ok && s != "" {
		return s
	}
	if b, ok := result["is_error"].(bool); ok && b {
		if s, ok := result["output"].(string); ok && s != "" {
			return s
		}
		return "tool reported is_error"
	}
	return ""
}

// redactResult walks every string value in the result, however nested, and
// replaces values matching a sensitive marker with the Redacted placeholder.
// Returns the redacted copy and how many values were replaced.
func (d *Dispatcher) redactResult(result map[string]interface{}) (map[string]interface{}, int, *hook.DispatchError) {
	if len(d.cfg.SensitiveMarkers) == 0 {
		return result, 0, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, 0, hook.Failf(hook.FailureRuleEvaluation, "result payload cannot be encoded: %v", err)
	}

	doc := string(raw)
	count := 0
	var walkErr *hook.DispatchError

	var walk func(prefix string, value gjson.Result)
	walk = func(prefix string, value gjson.Result) {
		if walkErr != nil {
			return
		}
		switch {
		case value.IsObject():
			value.ForEach(func(k, v gjson.Result) bool {
				walk(childPath(prefix, escapeKey(k.String())), v)
				return walkErr == nil
			})
		case value.IsArray():
			idx := 0
			value.ForEach(func(_, v gjson.Result) bool {
				walk(childPath(prefix, strconv.Itoa(idx)), v)
				idx++
				return walkErr == nil
			})
		case value.Type == gjson.String:
			matched, derr := d.matchesMarker(value.String())
			if derr != nil {
				walkErr = derr
				return
			}
			if matched {
				updated, err := sjson.Set(doc, prefix, Redacted)
				if err != nil {
					walkErr = hook.Failf(hook.FailureRuleEvaluation, "failed to redact %s: %v", prefix, err)
					return
				}
				doc = updated
				count++
			}
		}
	}
	walk("", gjson.Parse(string(raw)))

	if walkErr != nil {
		return nil, 0, walkErr
	}
	if count == 0 {
		return result, 0, nil
	}

	var redacted map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &redacted); err != nil {
		return nil, 0, hook.Failf(hook.FailureRuleEvaluation, "redacted payload cannot be decoded: %v", err)
	}
	return redacted, count, nil
}

func (d *Dispatcher) matchesMarker(value string) (bool, *hook.DispatchError) {
	for _, marker := range d.cfg.SensitiveMarkers {
		matched, err := d.matcher.MatchString(marker, value)
		if err != nil {
			return false, hook.Failf(hook.FailureRuleEvaluation, "sensitive marker %q: %v", marker, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func childPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// escapeKey escapes the characters gjson/sjson treat as path syntax
func escapeKey(key string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`.`, `\.`,
		`*`, `\*`,
		`?`, `\?`,
	)
	return replacer.Replace(key)
}
