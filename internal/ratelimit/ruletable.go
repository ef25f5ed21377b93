// ruletable.go: Rule registry with specificity-ordered lookup
package ratelimit

import (
	"sync"
)

// Wildcard is the catch-all endpoint pattern.
const Wildcard = "*"

// RuleTable maps endpoint patterns to the rules that govern them. Lookup is a
// two-level specificity order: exact pattern first, wildcard second. There is
// no prefix matching.
type RuleTable struct {
	mu    sync.RWMutex
	rules map[string]map[Window]Rule // pattern -> window class -> rule
}

// NewRuleTable constructs an empty rule table.
func NewRuleTable() *RuleTable {
	return &RuleTable{rules: make(map[string]map[Window]Rule)}
}

// Add installs a rule, replacing any existing rule for the same pattern and
// window class.
func (t *RuleTable) Add(rule Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byWindow, ok := t.rules[rule.EndpointPattern]
	if !ok {
		byWindow = make(map[Window]Rule)
		t.rules[rule.EndpointPattern] = byWindow
	}
	byWindow[rule.Window] = rule
}

// Remove deletes the rule for the given pattern and window class, if present.
func (t *RuleTable) Remove(pattern string, window Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byWindow, ok := t.rules[pattern]
	if !ok {
		return
	}
	delete(byWindow, window)
	if len(byWindow) == 0 {
		delete(t.rules, pattern)
	}
}

// Find returns every rule governing the path: the full exact-match set when
// one exists, otherwise the wildcard set, otherwise nil. A nil result means
// no limiting applies (fail-open for unconfigured routes).
func (t *RuleTable) Find(path string) []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if byWindow, ok := t.rules[path]; ok && len(byWindow) > 0 {
		return collectRules(byWindow)
	}
	if byWindow, ok := t.rules[Wildcard]; ok && len(byWindow) > 0 {
		return collectRules(byWindow)
	}
	return nil
}

// Len reports the number of installed rules across all patterns.
func (t *RuleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, byWindow := range t.rules {
		n += len(byWindow)
	}
	return n
}

func collectRules(byWindow map[Window]Rule) []Rule {
	rules := make([]Rule, 0, len(byWindow))
	// Fixed window order keeps evaluation deterministic.
	for _, w := range []Window{PerSecond, PerMinute, PerHour, PerDay} {
		if rule, ok := byWindow[w]; ok {
			rules = append(rules, rule)
		}
	}
	return rules
}
