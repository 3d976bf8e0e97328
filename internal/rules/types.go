package rules

import "regexp"

// Definition is a single redaction rule as supplied by external
// configuration. Rules are declarative data: a pattern to match, the
// category it belongs to, and the literal placeholder that replaces a
// match. A definition never carries executable behaviour.
type Definition struct {
	Category    string `yaml:"category" mapstructure:"category" json:"category"`
	Pattern     string `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	Placeholder string `yaml:"placeholder" mapstructure:"placeholder" json:"placeholder"`
}

// Rule is the compiled form of a Definition. Priority is the declaration
// index; lower wins when matches overlap.
type Rule struct {
	Category    string
	Pattern     *regexp.Regexp
	Placeholder string
	Priority    int
}

// RuleSet is an ordered, immutable collection of compiled rules. It is
// safe to share one RuleSet across concurrent redactions; it is never
// mutated after Compile returns it.
type RuleSet struct {
	rules []Rule
}

// Rules returns the compiled rules in declaration order.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Categories returns the rule categories in declaration order.
func (rs *RuleSet) Categories() []string {
	categories := make([]string, 0, len(rs.rules))
	for _, r := range rs.rules {
		categories = append(categories, r.Category)
	}
	return categories
}
