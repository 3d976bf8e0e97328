package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a malformed rule definition. The configuration
// load that produced it must be rejected wholesale; the service keeps
// serving with its previous rule set or, at startup, refuses to start.
type ValidationError struct {
	Index    int
	Category string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid redaction rule %d (category %q): %s", e.Index, e.Category, e.Reason)
}

// Compile validates and compiles an ordered list of rule definitions into
// an immutable RuleSet. Declaration order is preserved exactly; it becomes
// the tie-break priority for overlapping matches.
func Compile(defs []Definition) (*RuleSet, error) {
	if len(defs) == 0 {
		return nil, &ValidationError{Index: 0, Reason: "rule set is empty"}
	}

	seen := make(map[string]bool, len(defs))
	compiled := make([]Rule, 0, len(defs))

	for i, def := range defs {
		category := strings.TrimSpace(def.Category)
		if category == "" {
			return nil, &ValidationError{Index: i, Reason: "category is empty"}
		}
		if seen[category] {
			return nil, &ValidationError{Index: i, Category: category, Reason: "duplicate category"}
		}
		seen[category] = true

		if def.Placeholder == "" {
			return nil, &ValidationError{Index: i, Category: category, Reason: "placeholder is empty"}
		}
		// Placeholders are inserted literally, never through regexp
		// expansion, but a $ reference in one is almost certainly a
		// misconfigured attempt to echo captured text. Reject it.
		if strings.Contains(def.Placeholder, "$") {
			return nil, &ValidationError{Index: i, Category: category, Reason: "placeholder must not contain capture references"}
		}

		pattern, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, &ValidationError{Index: i, Category: category, Reason: fmt.Sprintf("pattern does not compile: %v", err)}
		}

		compiled = append(compiled, Rule{
			Category:    category,
			Pattern:     pattern,
			Placeholder: def.Placeholder,
			Priority:    i,
		})
	}

	return &RuleSet{rules: compiled}, nil
}

// DefaultDefinitions returns the built-in rule list used when the
// configuration supplies none of its own.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Category:    "EMAIL",
			Pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
			Placeholder: "[REDACTED_EMAIL]",
		},
		{
			Category:    "PHONE",
			Pattern:     `\+?\d[\d\s().\-]{6,}\d`,
			Placeholder: "[REDACTED_PHONE]",
		},
	}
}
