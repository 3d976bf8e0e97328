package audit

import "testing"

func TestHash(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a := Hash("salt", "some cv text")
		b := Hash("salt", "some cv text")
		if a != b {
			t.Error("Same salt and text should produce same hash")
		}
	})

	t.Run("SaltSensitive", func(t *testing.T) {
		if Hash("salt-1", "text") == Hash("salt-2", "text") {
			t.Error("Different salts should produce different hashes")
		}
	})

	t.Run("TextSensitive", func(t *testing.T) {
		if Hash("salt", "text-a") == Hash("salt", "text-b") {
			t.Error("Different texts should produce different hashes")
		}
	})

	t.Run("HexDigest", func(t *testing.T) {
		h := Hash("salt", "text")
		if len(h) != 64 {
			t.Errorf("Expected 64 hex chars, got %d", len(h))
		}
	})
}

func TestTextArrayRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"EMAIL"},
		{"EMAIL", "PHONE", "NI_NUMBER"},
	}

	for _, values := range cases {
		got := parseTextArray(formatTextArray(values))
		if len(got) != len(values) {
			t.Errorf("Round trip of %v gave %v", values, got)
			continue
		}
		for i := range values {
			if got[i] != values[i] {
				t.Errorf("Round trip of %v gave %v", values, got)
			}
		}
	}
}
