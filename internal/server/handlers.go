package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/cv-anonymiser/internal/audit"
	"github.com/raaihank/cv-anonymiser/internal/cache"
	"github.com/raaihank/cv-anonymiser/internal/redact"
	"github.com/raaihank/cv-anonymiser/internal/websocket"
	"go.uber.org/zap"
)

// anonymiseRequest is the request body for POST /anonymise
type anonymiseRequest struct {
	Text string `json:"text"`
}

// anonymiseResponse is the success body for POST /anonymise
type anonymiseResponse struct {
	RequestID      string         `json:"requestId"`
	AnonymisedText string         `json:"anonymisedText"`
	Summary        map[string]int `json:"summary"`
}

// errorBody is the stable error shape. The message never includes any
// fragment of the submitted text.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	errKindBadRequest       = "bad_request"
	errKindRulesUnavailable = "rules_unavailable"
	errKindPatternTimeout   = "pattern_timeout"
	errKindRateLimited      = "rate_limited"
	errKindInternal         = "internal_error"
)

// handleAnonymise redacts the submitted text and, on success, writes the
// audit record and broadcasts a counts-only event. The audit write happens
// here, not in the engine; a failed write is logged and the response still
// succeeds since the redaction itself leaked nothing.
func (s *Server) handleAnonymise(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := requestIDFromContext(r.Context())
	log := s.logger.WithRequestID(requestID)
	s.countRequest()

	ruleSet := s.ruleStore.Current()
	if ruleSet == nil || ruleSet.Len() == 0 {
		writeError(w, http.StatusServiceUnavailable, errKindRulesUnavailable,
			"no valid redaction rules are loaded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	var req anonymiseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errKindBadRequest,
			"request body must be JSON with a 'text' field")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errKindBadRequest,
			"missing 'text' field")
		return
	}

	inputHash := audit.Hash(s.config.Audit.Salt, req.Text)

	var (
		result   redact.Result
		cacheHit bool
	)
	if s.cache != nil {
		if cached, ok := s.cache.Get(r.Context(), inputHash); ok {
			result = redact.Result{RedactedText: cached.RedactedText, Summary: cached.Summary}
			cacheHit = true
		}
	}

	if !cacheHit {
		var err error
		result, err = s.engine.Redact(req.Text, ruleSet)
		if err != nil {
			var timeout *redact.TimeoutError
			if errors.As(err, &timeout) {
				log.Error("Pattern scan budget exceeded",
					zap.String("category", timeout.Category),
					zap.Duration("budget", timeout.Budget),
				)
				writeError(w, http.StatusServiceUnavailable, errKindPatternTimeout,
					"redaction did not complete within its time budget")
				return
			}
			log.Error("Redaction failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, errKindInternal,
				"redaction failed")
			return
		}

		if s.cache != nil {
			if err := s.cache.Store(r.Context(), inputHash, &cache.CachedResult{
				RedactedText: result.RedactedText,
				Summary:      result.Summary,
			}); err != nil {
				log.Warn("Failed to cache redaction result", zap.Error(err))
			}
		}
	}

	totalMatches := 0
	for _, count := range result.Summary {
		totalMatches += count
	}
	s.countRedactions(totalMatches)

	now := time.Now()
	record := &audit.Record{
		RequestID:      requestID,
		CVHash:         inputHash,
		CategoryCounts: result.Summary,
		RulesApplied:   ruleSet.Categories(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.config.Audit.RetentionPeriod),
	}
	if err := s.recorder.Record(r.Context(), record); err != nil {
		log.Error("Failed to write audit record", zap.Error(err))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		Timestamp: now,
		RequestID: requestID,
		Data: websocket.RedactionEvent{
			RequestID:      requestID,
			CategoryCounts: result.Summary,
			TotalMatches:   totalMatches,
			CacheHit:       cacheHit,
			ProcessingMS:   float64(time.Since(start).Nanoseconds()) / 1e6,
		},
	})

	log.Info("Text anonymised",
		zap.Int("total_matches", totalMatches),
		zap.Bool("cache_hit", cacheHit),
		zap.Duration("duration", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, anonymiseResponse{
		RequestID:      requestID,
		AnonymisedText: result.RedactedText,
		Summary:        result.Summary,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo reports service metadata: rule categories, never rule patterns
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ruleSet := s.ruleStore.Current()
	categories := []string{}
	if ruleSet != nil {
		categories = ruleSet.Categories()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "cv-anonymiser",
		"version":          "0.1.0",
		"uptime":           time.Since(s.startedAt).Round(time.Second).String(),
		"rule_categories":  categories,
		"total_requests":   atomic.LoadInt64(&s.totalRequests),
		"total_redactions": atomic.LoadInt64(&s.totalRedactions),
		"audit_enabled":    s.config.Audit.Enabled,
		"cache_enabled":    s.cache != nil,
		"ws_clients":       s.wsHub.ClientCount(),
	})
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes the stable error shape
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// newRequestID generates a unique request ID
func newRequestID() string {
	return uuid.New().String()
}
