package dispatch

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/loopworks/hookgate/internal/config"
)

// Matcher handles regex pattern matching for rules
type Matcher struct {
	cache sync.Map // caches compiled regex patterns
}

// NewMatcher creates a new pattern matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// MatchResult contains the result of a pattern match
type MatchResult struct {
	Matched bool
	Pattern string
	Field   string
	Value   string
}

// MatchString checks a single value against a pattern
func (m *Matcher) MatchString(pattern, value string) (bool, error) {
	re, err := m.getOrCompile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(value), nil
}

// MatchRule checks a rule's pattern against the params map. When the rule
// names a field only that field is inspected; otherwise every param value is
// checked in turn. Values are stringified before matching, so nested maps
// match on their rendered form.
func (m *Matcher) MatchRule(rule *config.Rule, params map[string]interface{}) (*MatchResult, error) {
	re, err := m.getOrCompile(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", rule.Pattern, err)
	}

	if rule.Field != "" {
		value, ok := params[rule.Field]
		if !ok {
			return &MatchResult{Matched: false}, nil
		}
		strValue := stringify(value)
		if re.MatchString(strValue) {
			return &MatchResult{
				Matched: true,
				Pattern: rule.Pattern,
				Field:   rule.Field,
				Value:   strValue,
			}, nil
		}
		return &MatchResult{Matched: false}, nil
	}

	// Sorted field order keeps the reported match deterministic when more
	// than one value matches
	for _, field := range sortedKeys(params) {
		strValue := stringify(params[field])
		if re.MatchString(strValue) {
			return &MatchResult{
				Matched: true,
				Pattern: rule.Pattern,
				Field:   field,
				Value:   strValue,
			}, nil
		}
	}

	return &MatchResult{Matched: false}, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getOrCompile retrieves a compiled regex from cache or compiles it
func (m *Matcher) getOrCompile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := m.cache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	m.cache.Store(pattern, re)
	return re, nil
}

// stringify renders a param value for pattern matching
func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
