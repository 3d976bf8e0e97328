// Package redact implements the redaction engine: a pure transformation
// from (text, rule set) to redacted text plus a per-category summary. The
// engine performs no I/O and no logging; the original text and the matched
// spans never leave the call.
package redact

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raaihank/cv-anonymiser/internal/rules"
)

// Result is the outcome of a redaction. Summary maps category to the
// number of surviving matches; it never contains matched text.
type Result struct {
	RedactedText string         `json:"redactedText"`
	Summary      map[string]int `json:"summary"`
}

// TimeoutError reports that scanning exceeded the engine's budget. The
// whole request fails; no partially redacted text is returned. Only the
// offending rule's category is carried, never any input.
type TimeoutError struct {
	Category string
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pattern scan for category %q exceeded budget %s", e.Category, e.Budget)
}

// Engine applies a rule set to input text. A single Engine is safe for
// concurrent use; it holds no per-request state.
type Engine struct {
	scanTimeout time.Duration
}

// New creates an engine with the given scan budget. A non-positive budget
// falls back to a conservative default.
func New(scanTimeout time.Duration) *Engine {
	if scanTimeout <= 0 {
		scanTimeout = 2 * time.Second
	}
	return &Engine{scanTimeout: scanTimeout}
}

// match is a transient (start, end) byte span claimed by a rule.
type match struct {
	start int
	end   int
	rule  *rules.Rule
}

// Redact scans text with every rule in declaration order and rebuilds it
// with each surviving match replaced by its rule's placeholder.
//
// Rules claim spans in priority order: a match that overlaps a span already
// claimed by an earlier rule is discarded entirely, never trimmed, so an
// overlap can't leave a partial PII fragment behind. Offsets are byte
// offsets into the raw input; regexp matches always fall on UTF-8 rune
// boundaries, so unmatched multi-byte text is copied through intact.
//
// The wall-clock budget is checked before each rule's scan. Go's regexp is
// linear-time, so a single scan is bounded; the budget caps the combined
// work a pathological rule set can spend on one request. Overrun fails the
// whole request with *TimeoutError.
func (e *Engine) Redact(text string, rs *rules.RuleSet) (Result, error) {
	summary := make(map[string]int)
	if text == "" {
		return Result{RedactedText: "", Summary: summary}, nil
	}

	deadline := time.Now().Add(e.scanTimeout)

	var accepted []match
	ruleList := rs.Rules()
	for i := range ruleList {
		rule := &ruleList[i]
		if time.Now().After(deadline) {
			return Result{}, &TimeoutError{Category: rule.Category, Budget: e.scanTimeout}
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			m := match{start: loc[0], end: loc[1], rule: rule}
			if !overlapsAny(accepted, m) {
				accepted = append(accepted, m)
			}
		}
	}

	if len(accepted) == 0 {
		return Result{RedactedText: text, Summary: summary}, nil
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].start < accepted[j].start
	})

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range accepted {
		out.WriteString(text[last:m.start])
		out.WriteString(m.rule.Placeholder)
		summary[m.rule.Category]++
		last = m.end
	}
	out.WriteString(text[last:])

	return Result{RedactedText: out.String(), Summary: summary}, nil
}

// overlapsAny reports whether m overlaps any already-claimed span.
// Accepted spans within one rule are disjoint (FindAll is non-overlapping)
// but spans from different rules arrive out of order, so every candidate
// is checked against the full claimed list.
func overlapsAny(accepted []match, m match) bool {
	for _, a := range accepted {
		if m.start < a.end && a.start < m.end {
			return true
		}
	}
	return false
}
