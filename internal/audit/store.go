// Package audit records what was redacted without recording what was
// submitted: each row carries a salted hash of the input plus per-category
// counts. Neither raw nor redacted text is ever written.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Record is one audit trail entry. ExpiresAt drives retention cleanup.
type Record struct {
	RequestID      string         `db:"request_id" json:"requestId"`
	CVHash         string         `db:"cv_hash" json:"cvHash"`
	CategoryCounts map[string]int `db:"-" json:"categoryCounts"`
	RulesApplied   []string       `db:"-" json:"rulesApplied"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time      `db:"expires_at" json:"expiresAt"`
}

// Recorder is the audit sink contract the server writes to. The no-op
// implementation backs deployments (and tests) that run without a
// database.
type Recorder interface {
	Record(ctx context.Context, record *Record) error
}

// NopRecorder discards audit records.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(ctx context.Context, record *Record) error { return nil }

// Config contains audit database configuration
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists audit records in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the audit database and ensures the schema exists.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

// ensureSchema creates the audit table if it does not exist
func (s *Store) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("audit database ping failed: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS audit_records (
			request_id      UUID PRIMARY KEY,
			cv_hash         CHAR(64) NOT NULL,
			category_counts JSONB NOT NULL DEFAULT '{}',
			rules_applied   TEXT[] NOT NULL DEFAULT '{}',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_expires_at ON audit_records (expires_at);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}

	return nil
}

// Record implements Recorder.
func (s *Store) Record(ctx context.Context, record *Record) error {
	counts, err := json.Marshal(record.CategoryCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal category counts: %w", err)
	}

	query := `
		INSERT INTO audit_records (request_id, cv_hash, category_counts, rules_applied, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		record.RequestID,
		record.CVHash,
		counts,
		formatTextArray(record.RulesApplied),
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("Failed to insert audit record",
			zap.Error(err),
			zap.String("request_id", record.RequestID))
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	s.logger.Debug("Audit record written",
		zap.String("request_id", record.RequestID))

	return nil
}

// List returns the most recent audit records, newest first. Used by the
// export tool, not by the request path.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT request_id, cv_hash, category_counts, rules_applied, created_at, expires_at
		FROM audit_records
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			record    Record
			countsRaw []byte
			rulesRaw  string
		)
		if err := rows.Scan(&record.RequestID, &record.CVHash, &countsRaw, &rulesRaw, &record.CreatedAt, &record.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if err := json.Unmarshal(countsRaw, &record.CategoryCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category counts: %w", err)
		}
		record.RulesApplied = parseTextArray(rulesRaw)
		records = append(records, &record)
	}

	return records, rows.Err()
}

// DeleteExpired removes records past their retention deadline and returns
// the number deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit records: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Expired audit records removed", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// formatTextArray renders a Postgres text[] literal
func formatTextArray(values []string) string {
	if len(values) == 0 {
		return "{}"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// parseTextArray parses a Postgres text[] literal of plain identifiers
func parseTextArray(raw string) []string {
	trimmed := strings.Trim(raw, "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(p, `"`)
	}
	return parts
}

// maskDatabaseURL masks credentials in a database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
