package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/cv-anonymiser/internal/audit"
	"github.com/raaihank/cv-anonymiser/internal/config"
	"github.com/raaihank/cv-anonymiser/internal/logger"
	"github.com/raaihank/cv-anonymiser/internal/rules"
	"go.uber.org/zap"
)

// captureRecorder collects audit records for assertions
type captureRecorder struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (c *captureRecorder) Record(ctx context.Context, record *audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureRecorder) last() *audit.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return nil
	}
	return c.records[len(c.records)-1]
}

func newTestServer(t *testing.T, cfg *config.Config, recorder audit.Recorder) *Server {
	t.Helper()

	log := &logger.Logger{Logger: zap.NewNop()}
	s, err := New(cfg, log, recorder, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func testConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	cfg.Audit.Salt = "test-salt"
	return cfg
}

func postAnonymise(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/anonymise", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleAnonymise(t *testing.T) {
	t.Run("RedactsEmailAndPhone", func(t *testing.T) {
		recorder := &captureRecorder{}
		cfg := testConfig()
		s := newTestServer(t, cfg, recorder)

		input := "Contact me at test.user@example.com or +44 7700 900123. Thanks!"
		payload, _ := json.Marshal(map[string]string{"text": input})
		rec := postAnonymise(t, s, string(payload))

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp anonymiseResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if resp.RequestID == "" {
			t.Error("Response is missing a request ID")
		}
		want := "Contact me at [REDACTED_EMAIL] or [REDACTED_PHONE]. Thanks!"
		if resp.AnonymisedText != want {
			t.Errorf("Got %q, want %q", resp.AnonymisedText, want)
		}
		if resp.Summary["EMAIL"] != 1 || resp.Summary["PHONE"] != 1 {
			t.Errorf("Unexpected summary: %v", resp.Summary)
		}
		if strings.Contains(rec.Body.String(), "test.user@example.com") {
			t.Error("Response leaks the original email address")
		}

		record := recorder.last()
		if record == nil {
			t.Fatal("No audit record written")
		}
		if record.CVHash != audit.Hash(cfg.Audit.Salt, input) {
			t.Error("Audit record hash does not match the salted input hash")
		}
		if record.CategoryCounts["EMAIL"] != 1 || record.CategoryCounts["PHONE"] != 1 {
			t.Errorf("Audit record counts wrong: %v", record.CategoryCounts)
		}
		if !record.ExpiresAt.After(record.CreatedAt) {
			t.Error("Audit record has no retention window")
		}
	})

	t.Run("MissingTextField", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})

		rec := postAnonymise(t, s, `{"other":"value"}`)
		assertErrorKind(t, rec, http.StatusBadRequest, errKindBadRequest)
	})

	t.Run("BlankText", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})

		rec := postAnonymise(t, s, `{"text":"   "}`)
		assertErrorKind(t, rec, http.StatusBadRequest, errKindBadRequest)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})

		rec := postAnonymise(t, s, `{not json`)
		assertErrorKind(t, rec, http.StatusBadRequest, errKindBadRequest)
	})

	t.Run("FailsClosedWithoutRules", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})
		s.RuleStore().Swap(nil)

		input := "please handle sneaky.leak@example.com"
		payload, _ := json.Marshal(map[string]string{"text": input})
		rec := postAnonymise(t, s, string(payload))

		assertErrorKind(t, rec, http.StatusServiceUnavailable, errKindRulesUnavailable)
		if strings.Contains(rec.Body.String(), "sneaky.leak@example.com") {
			t.Error("Error response leaks the submitted text")
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerSec = 0.001
		cfg.RateLimit.Burst = 1
		s := newTestServer(t, cfg, audit.NopRecorder{})

		payload := `{"text":"a@b.com"}`
		first := postAnonymise(t, s, payload)
		if first.Code != http.StatusOK {
			t.Fatalf("First request should pass, got %d", first.Code)
		}

		second := postAnonymise(t, s, payload)
		assertErrorKind(t, second, http.StatusTooManyRequests, errKindRateLimited)
	})
}

func assertErrorKind(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantKind string) {
	t.Helper()

	if rec.Code != wantStatus {
		t.Fatalf("Expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Error response is not the stable shape: %v", err)
	}
	if body.Error.Kind != wantKind {
		t.Errorf("Expected error kind %q, got %q", wantKind, body.Error.Kind)
	}
	if body.Error.Message == "" {
		t.Error("Error response has no message")
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), audit.NopRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestHandleInfo(t *testing.T) {
	s := newTestServer(t, testConfig(), audit.NopRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Failed to decode info: %v", err)
	}
	if _, ok := info["rule_categories"]; !ok {
		t.Error("Info response missing rule_categories")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Run("SwapsValidRules", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})

		next := testConfig()
		next.Redaction.Rules = []rules.Definition{
			{Category: "NI_NUMBER", Pattern: `[A-Z]{2}\d{6}[A-Z]`, Placeholder: "[REDACTED_NI]"},
		}
		s.ApplyConfig(next)

		categories := s.RuleStore().Current().Categories()
		if len(categories) != 1 || categories[0] != "NI_NUMBER" {
			t.Errorf("Rules not swapped: %v", categories)
		}
	})

	t.Run("KeepsCurrentRulesOnBadReload", func(t *testing.T) {
		s := newTestServer(t, testConfig(), audit.NopRecorder{})
		before := s.RuleStore().Current()

		next := testConfig()
		next.Redaction.Rules = []rules.Definition{
			{Category: "BROKEN", Pattern: `[`, Placeholder: "[X]"},
		}
		s.ApplyConfig(next)

		if s.RuleStore().Current() != before {
			t.Error("Invalid reload replaced the active rule set")
		}
	})
}
