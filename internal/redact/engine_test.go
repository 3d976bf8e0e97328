package redact

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/raaihank/cv-anonymiser/internal/rules"
)

func defaultRuleSet(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Compile(rules.DefaultDefinitions())
	if err != nil {
		t.Fatalf("Failed to compile default rules: %v", err)
	}
	return rs
}

func TestRedact(t *testing.T) {
	engine := New(2 * time.Second)
	rs := defaultRuleSet(t)

	t.Run("EmailAndPhone", func(t *testing.T) {
		input := "Contact me at test.user@example.com or +44 7700 900123. Thanks!"

		result, err := engine.Redact(input, rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}

		want := "Contact me at [REDACTED_EMAIL] or [REDACTED_PHONE]. Thanks!"
		if result.RedactedText != want {
			t.Errorf("Got %q, want %q", result.RedactedText, want)
		}
		if result.Summary["EMAIL"] != 1 || result.Summary["PHONE"] != 1 {
			t.Errorf("Unexpected summary: %v", result.Summary)
		}
	})

	t.Run("NoMatches", func(t *testing.T) {
		input := "A plain sentence with nothing sensitive in it."

		result, err := engine.Redact(input, rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != input {
			t.Errorf("Text without matches was modified: %q", result.RedactedText)
		}
		if len(result.Summary) != 0 {
			t.Errorf("Expected empty summary, got %v", result.Summary)
		}
	})

	t.Run("EmptyInput", func(t *testing.T) {
		result, err := engine.Redact("", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "" {
			t.Errorf("Expected empty output, got %q", result.RedactedText)
		}
		if len(result.Summary) != 0 {
			t.Errorf("Expected empty summary, got %v", result.Summary)
		}
	})

	t.Run("RepeatedMatches", func(t *testing.T) {
		result, err := engine.Redact("a@b.com a@b.com", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "[REDACTED_EMAIL] [REDACTED_EMAIL]" {
			t.Errorf("Got %q", result.RedactedText)
		}
		if result.Summary["EMAIL"] != 2 {
			t.Errorf("Expected EMAIL count 2, got %d", result.Summary["EMAIL"])
		}
	})

	t.Run("NoLeakage", func(t *testing.T) {
		inputs := []string{
			"reach me: jane.doe+cv@corp.example.org",
			"call +44 7700 900123 anytime",
			"both: jane.doe@corp.example.org and 020 7946 0958 here",
		}
		secrets := []string{"jane.doe", "7700 900123", "7946 0958"}

		for _, input := range inputs {
			result, err := engine.Redact(input, rs)
			if err != nil {
				t.Fatalf("Redact failed: %v", err)
			}
			lower := strings.ToLower(result.RedactedText)
			for _, secret := range secrets {
				if strings.Contains(lower, strings.ToLower(secret)) {
					t.Errorf("Output %q leaks %q", result.RedactedText, secret)
				}
			}
		}
	})

	t.Run("UnicodeNeighbours", func(t *testing.T) {
		result, err := engine.Redact("名前 a@b.com 電話 ☎", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "名前 [REDACTED_EMAIL] 電話 ☎" {
			t.Errorf("Multi-byte neighbours corrupted: %q", result.RedactedText)
		}
	})

	t.Run("IdempotentOnPlaceholders", func(t *testing.T) {
		first, err := engine.Redact("mail a@b.com, phone +44 7700 900123", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}

		second, err := engine.Redact(first.RedactedText, rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if second.RedactedText != first.RedactedText {
			t.Errorf("Redacting redacted text changed it: %q -> %q", first.RedactedText, second.RedactedText)
		}
		if len(second.Summary) != 0 {
			t.Errorf("Placeholder-only text produced matches: %v", second.Summary)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		input := "x@y.com and +44 7700 900123 and x@y.com"
		a, err := engine.Redact(input, rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		b, err := engine.Redact(input, rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if a.RedactedText != b.RedactedText {
			t.Errorf("Non-deterministic output: %q vs %q", a.RedactedText, b.RedactedText)
		}
	})
}

func TestRedactOverlapPriority(t *testing.T) {
	engine := New(2 * time.Second)

	// Both rules match overlapping spans of "123-4567"
	defsAB := []rules.Definition{
		{Category: "A", Pattern: `123-\d+`, Placeholder: "[A]"},
		{Category: "B", Pattern: `\d+-4567`, Placeholder: "[B]"},
	}

	t.Run("EarlierRuleWins", func(t *testing.T) {
		rs, err := rules.Compile(defsAB)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		result, err := engine.Redact("id 123-4567 end", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "id [A] end" {
			t.Errorf("Got %q, want %q", result.RedactedText, "id [A] end")
		}
		if result.Summary["A"] != 1 || result.Summary["B"] != 0 {
			t.Errorf("Loser not discarded: %v", result.Summary)
		}
	})

	t.Run("PriorityFollowsDeclarationOrder", func(t *testing.T) {
		reversed := []rules.Definition{defsAB[1], defsAB[0]}
		rs, err := rules.Compile(reversed)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		result, err := engine.Redact("id 123-4567 end", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "id [B] end" {
			t.Errorf("Got %q, want %q", result.RedactedText, "id [B] end")
		}
	})

	t.Run("LoserDiscardedEntirely", func(t *testing.T) {
		// B's match extends past A's claimed span; the tail must stay
		// verbatim rather than being partially replaced.
		rs, err := rules.Compile([]rules.Definition{
			{Category: "A", Pattern: `123-45`, Placeholder: "[A]"},
			{Category: "B", Pattern: `45\d+`, Placeholder: "[B]"},
		})
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		result, err := engine.Redact("123-4567", rs)
		if err != nil {
			t.Fatalf("Redact failed: %v", err)
		}
		if result.RedactedText != "[A]67" {
			t.Errorf("Got %q, want %q", result.RedactedText, "[A]67")
		}
	})
}

func TestRedactTimeout(t *testing.T) {
	rs := defaultRuleSet(t)

	engine := &Engine{scanTimeout: time.Nanosecond}
	_, err := engine.Redact("a@b.com", rs)
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected *TimeoutError, got %T", err)
	}
	if timeout.Category == "" {
		t.Error("Timeout error should name the offending category")
	}
	if strings.Contains(timeout.Error(), "a@b.com") {
		t.Error("Timeout error must not contain input text")
	}
}
