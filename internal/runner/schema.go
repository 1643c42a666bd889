package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loopworks/hookgate/internal/hook"
)

var (
	schemaOnce   sync.Once
	schemaLoader gojsonschema.JSONLoader
	schemaErr    error
)

// decisionSchema builds the JSON schema for hook output once, by reflecting
// the Decision struct and tightening what reflection cannot know: the action
// and failure enums. Unknown root fields are tolerated so hooks can attach
// their own diagnostics.
func decisionSchema() (gojsonschema.JSONLoader, error) {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(&hook.Decision{})

		schema.AdditionalProperties = nil
		schema.Required = []string{"action"}

		if prop, ok := schema.Properties.Get("action"); ok {
			prop.Enum = []interface{}{
				string(hook.ActionAllow),
				string(hook.ActionBlock),
				string(hook.ActionModify),
				string(hook.ActionRetry),
				string(hook.ActionContinue),
			}
		}
		if prop, ok := schema.Properties.Get("failure"); ok {
			prop.Enum = []interface{}{
				string(hook.FailureUnknownEventKind),
				string(hook.FailureMissingRequiredField),
				string(hook.FailureMalformedDecision),
				string(hook.FailureHookTimeout),
				string(hook.FailureRuleEvaluation),
			}
		}

		data, err := json.Marshal(schema)
		if err != nil {
			schemaErr = fmt.Errorf("failed to marshal decision schema: %w", err)
			return
		}
		var schemaMap map[string]interface{}
		if err := json.Unmarshal(data, &schemaMap); err != nil {
			schemaErr = fmt.Errorf("failed to unmarshal decision schema: %w", err)
			return
		}
		schemaLoader = gojsonschema.NewGoLoader(schemaMap)
	})
	return schemaLoader, schemaErr
}

// decodeDecision parses hook stdout into a validated decision for the event
// kind. The schema catches shape problems (missing or unknown action, wrong
// types); ValidateFor supplies the kind-specific checks. Every violation is
// classified malformed_decision_output.
func decodeDecision(data []byte, kind hook.EventKind) (*hook.Decision, *hook.DispatchError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, hook.Failf(hook.FailureMalformedDecision, "hook emitted no decision")
	}

	loader, err := decisionSchema()
	if err != nil {
		return nil, hook.Failf(hook.FailureMalformedDecision, "decision schema unavailable: %v", err)
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return nil, hook.Failf(hook.FailureMalformedDecision, "decision is not valid JSON: %v", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return nil, hook.Failf(hook.FailureMalformedDecision,
			"decision violates schema: %s", strings.Join(msgs, "; "))
	}

	var dec hook.Decision
	if err := json.Unmarshal(trimmed, &dec); err != nil {
		return nil, hook.Failf(hook.FailureMalformedDecision, "decision did not decode: %v", err)
	}
	if err := dec.ValidateFor(kind); err != nil {
		var derr *hook.DispatchError
		if errors.As(err, &derr) {
			return nil, derr
		}
		return nil, hook.Failf(hook.FailureMalformedDecision, "%v", err)
	}
	return &dec, nil
}
