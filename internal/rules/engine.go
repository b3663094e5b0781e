package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/verdict"
)

// FailureHook is called for every rule that fails on a record.
type FailureHook func(rule string, err error)

// Engine runs an ordered list of rules over a record and reduces their findings into a verdict.
// Validate may run concurrently with itself and with rule list changes.
type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	revision  uint64
	onFailure FailureHook
}

// NewEngine creates an engine with the default rules (when includeDefaults is set)
// followed by custom.
func NewEngine(custom []Rule, includeDefaults bool) *Engine {
	return NewEngineWithThresholds(custom, includeDefaults, DefaultThresholds())
}

// NewEngineWithThresholds is NewEngine with configured built-in thresholds.
func NewEngineWithThresholds(custom []Rule, includeDefaults bool, t Thresholds) *Engine {
	e := &Engine{}
	if includeDefaults {
		e.rules = append(e.rules, DefaultRules(t)...)
	}
	e.rules = append(e.rules, custom...)
	return e
}

// OnRuleFailure registers a hook called when a rule fails.
func (e *Engine) OnRuleFailure(hook FailureHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = hook
}

// AddRule appends a rule; it runs after every rule already registered.
func (e *Engine) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	e.revision++
}

// RemoveRule removes every rule with the given name and returns how many were removed.
func (e *Engine) RemoveRule(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.rules[:0:0]
	for _, r := range e.rules {
		if r.Name() != name {
			kept = append(kept, r)
		}
	}
	removed := len(e.rules) - len(kept)
	if removed > 0 {
		e.rules = kept
		e.revision++
	}
	return removed
}

// Rules returns a copy of the registered rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RulesInfo describes the registered rules in evaluation order.
func (e *Engine) RulesInfo() []domain.RuleInfo {
	rules := e.Rules()
	info := make([]domain.RuleInfo, len(rules))
	for i, r := range rules {
		info[i] = domain.RuleInfo{Name: r.Name(), Description: r.Description()}
	}
	return info
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Revision changes every time the rule list changes.
func (e *Engine) Revision() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision
}

// Validate runs every applicable rule over data and reduces the findings.
// A rule that fails contributes one warning naming it and nothing else.
func (e *Engine) Validate(data domain.Record, schema domain.Schema) domain.Verdict {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	onFailure := e.onFailure
	e.mu.RUnlock()

	var findings []domain.Finding
	checked := make([]string, 0, len(rules))

	for _, rule := range rules {
		if !rule.AppliesTo(schema) {
			continue
		}
		name := rule.Name()
		checked = append(checked, name)

		ruleFindings, err := rule.Evaluate(data, schema)
		if err != nil {
			slog.Warn("rule skipped", "rule", name, "schema", schema.Name, "error", err)
			if onFailure != nil {
				onFailure(name, err)
			}
			findings = append(findings, domain.Finding{
				RuleName: name,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("Rule '%s' raised an exception and was skipped", name),
			})
			continue
		}
		findings = append(findings, ruleFindings...)
	}

	return verdict.Reduce(findings, checked)
}

// Validate runs the given rules, optionally preceded by the defaults, over one record.
func Validate(data domain.Record, schema domain.Schema, custom []Rule, includeDefaults bool) domain.Verdict {
	return NewEngine(custom, includeDefaults).Validate(data, schema)
}
