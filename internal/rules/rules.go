// Package rules implements the static allow/deny rule sets and the
// machine-local learned rule store used by the security gate.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Match kinds. Closed set — unknown kinds are dropped at load time.
const (
	MatchPrefix   = "prefix"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Rule is one gating rule. Pattern semantics depend on Type.
type Rule struct {
	ID      string `yaml:"id" json:"id"`
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Reason  string `yaml:"reason" json:"reason"`

	re *regexp.Regexp
}

// compile prepares the rule for matching. Regex rules with invalid
// patterns return an error and are dropped by the loader.
func (r *Rule) compile() error {
	switch r.Type {
	case MatchPrefix, MatchContains:
		return nil
	case MatchRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: bad regex: %w", r.ID, err)
		}
		r.re = re
		return nil
	default:
		return fmt.Errorf("rule %s: unknown match type %q", r.ID, r.Type)
	}
}

// Matches tests one command against this rule.
func (r *Rule) Matches(command string) bool {
	switch r.Type {
	case MatchPrefix:
		return strings.HasPrefix(command, r.Pattern)
	case MatchContains:
		return strings.Contains(command, r.Pattern)
	case MatchRegex:
		return r.re != nil && r.re.MatchString(command)
	}
	return false
}

/// Ruleset is an ordered rule list. Order is significant: evaluation stops
// at the first matching rule.
type Ruleset struct {
	rules []Rule
}

// NewRuleset compiles the given rules, dropping any that fail to compile.
// Returned dropped diagnostics let the caller log without aborting.
func NewRuleset(rs []Rule) (*Ruleset, []error) {
	set := &Ruleset{}
	var dropped []error
	for _, r := range rs {
		if err := r.compile(); err != nil {
			dropped = append(dropped, err)
			continue
		}
		set.rules = append(set.rules, r)
	}
	return set, dropped
}

// Match returns the first rule matching the command, or nil.
func (s *Ruleset) Match(command string) *Rule {
	if s == nil {
		return nil
	}
	for i := range s.rules {
		if s.rules[i].Matches(command) {
			return &s.rules[i]
		}
	}
	return nil
}

// Len reports the number of loaded rules.
func (s *Ruleset) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rule list in evaluation order.
func (s *Ruleset) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ruleFile is the on-disk schema for allow/deny lists.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads an ordered rule list from a YAML file. A missing file
// yields an empty ruleset.
func LoadFile(path string) (*Ruleset, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			set, _ := NewRuleset(nil)
			return set, nil, nil
		}
		return nil, nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse rules %s: %w", path, err)
	}

	set, dropped := NewRuleset(f.Rules)
	return set, dropped, nil
}
