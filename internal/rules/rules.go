// Package rules implements the chat-action rule engine: an ordered list of
// rules, each an AND-composition of case-insensitive regular expressions
// mapped to an action descriptor. The first rule whose every pattern matches
// a message's text wins.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/history"
)

// Rule is the on-disk form of a single rule
type Rule struct {
	Action   action.Descriptor `json:"action"`
	Patterns []string          `json:"patterns"`
}

type compiledRule struct {
	action   action.Descriptor
	patterns []*regexp.Regexp
}

// Engine holds the compiled rule set. The rule list is immutable once loaded;
// Load swaps in a freshly-compiled list atomically, so matching may proceed
// concurrently with reloads.
type Engine struct {
	broadcasterID string

	mu    sync.RWMutex
	rules []compiledRule
}

func NewEngine(broadcasterID string) *Engine {
	return &Engine{broadcasterID: broadcasterID}
}

// Load compiles and installs a new rule set, replacing the previous one. On
// any compile error the previous rule set is left in place.
func (e *Engine) Load(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %d has no patterns", i)
		}
		cr := compiledRule{action: rule.Action, patterns: make([]*regexp.Regexp, 0, len(rule.Patterns))}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return fmt.Errorf("rule %d has invalid pattern %q: %w", i, pattern, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// LoadFile reads a JSON rule list from the given path and installs it
func (e *Engine) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}
	return e.Load(rules)
}

// Match returns the action descriptor of the first rule matching the message,
// or nil. Messages from the broadcaster and trusted injections are exempt
// from all rules.
func (e *Engine) Match(m history.Message) *action.Descriptor {
	if m.UserID == e.broadcasterID {
		return nil
	}
	if m.Source == history.SourceInjectedTrusted {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.rules {
		if e.rules[i].matches(m.Text) {
			descriptor := e.rules[i].action
			return &descriptor
		}
	}
	return nil
}

// Count returns the number of loaded rules
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (r *compiledRule) matches(text string) bool {
	for _, pattern := range r.patterns {
		if !pattern.MatchString(text) {
			return false
		}
	}
	return true
}
