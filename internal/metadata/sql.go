package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Register postgres driver
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver
)

// SQLStore implements Store on PostgreSQL or SQLite
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens a database with the given driver ("postgres" or "sqlite3")
// and ensures the tables exist
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	store, err := NewSQLStore(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing connection and ensures the tables exist
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	store := &SQLStore{db: db, driver: driver}

	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure metadata tables: %w", err)
	}

	return store, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS hazard_rate_limit (
		id TEXT PRIMARY KEY,
		last_invoked_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hazard_settings (
		id TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hazard_prompts (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hazard_audit (
		id TEXT PRIMARY KEY,
		recorded_at TEXT NOT NULL,
		caption TEXT NOT NULL,
		model_name TEXT NOT NULL,
		raw_labels TEXT NOT NULL,
		raw_ppe TEXT NOT NULL,
		source_location TEXT NOT NULL,
		result_location TEXT NOT NULL,
		classification TEXT NOT NULL,
		risk_level TEXT NOT NULL
	)`,
}

// ensureTables creates the metadata tables if they don't exist
func (s *SQLStore) ensureTables() error {
	for i, stmt := range tableStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) GetRateLimit(ctx context.Context) (*RateLimitState, error) {
	var revision string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT last_invoked_at FROM hazard_rate_limit WHERE id = ?`), RateLimitID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}

	at, err := ParseTimestamp(revision)
	if err != nil {
		// The raw column value still serves as the compare value for the repair
		return malformedRateLimit(revision, err)
	}
	return &RateLimitState{LastInvokedAt: at, Revision: revision}, nil
}

func (s *SQLStore) PutRateLimit(ctx context.Context, at time.Time, prev *RateLimitState) error {
	var (
		res sql.Result
		err error
	)
	if prev == nil {
		res, err = s.db.ExecContext(ctx,
			s.rebind(`INSERT INTO hazard_rate_limit (id, last_invoked_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`),
			RateLimitID, FormatTimestamp(at))
	} else {
		res, err = s.db.ExecContext(ctx,
			s.rebind(`UPDATE hazard_rate_limit SET last_invoked_at = ? WHERE id = ? AND last_invoked_at = ?`),
			FormatTimestamp(at), RateLimitID, prev.Revision)
	}
	if err != nil {
		return fmt.Errorf("failed to put rate limit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put rate limit: %w", err)
	}
	if affected == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *SQLStore) GetActivePromptID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM hazard_settings WHERE id = ?`), ActivePromptID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active prompt id: %w", err)
	}
	return id, nil
}

func (s *SQLStore) PutActivePromptID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO hazard_settings (id, value) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value
	`), ActivePromptID, id)
	if err != nil {
		return fmt.Errorf("failed to put active prompt id: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPrompt(ctx context.Context, id string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT prompt FROM hazard_prompts WHERE id = ?`), id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get prompt %q: %w", id, err)
	}
	return text, nil
}

func (s *SQLStore) PutPrompt(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO hazard_prompts (id, prompt) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET prompt = EXCLUDED.prompt
	`), id, text)
	if err != nil {
		return fmt.Errorf("failed to put prompt %q: %w", id, err)
	}
	return nil
}

func (s *SQLStore) PutAudit(ctx context.Context, rec AuditRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO hazard_audit (id, recorded_at, caption, model_name, raw_labels, raw_ppe,
			source_location, result_location, classification, risk_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET recorded_at = EXCLUDED.recorded_at,
		    caption = EXCLUDED.caption,
		    model_name = EXCLUDED.model_name,
		    raw_labels = EXCLUDED.raw_labels,
		    raw_ppe = EXCLUDED.raw_ppe,
		    source_location = EXCLUDED.source_location,
		    result_location = EXCLUDED.result_location,
		    classification = EXCLUDED.classification,
		    risk_level = EXCLUDED.risk_level
	`), rec.ID, rec.Timestamp, rec.Caption, rec.ModelName, rec.RawLabels, rec.RawPPE,
		rec.SourceLocation, rec.ResultLocation, rec.Classification, rec.RiskLevel)
	if err != nil {
		return fmt.Errorf("failed to put audit record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAudit(ctx context.Context, id string) (*AuditRecord, error) {
	var rec AuditRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, recorded_at, caption, model_name, raw_labels, raw_ppe,
			source_location, result_location, classification, risk_level
		FROM hazard_audit WHERE id = ?
	`), id).Scan(&rec.ID, &rec.Timestamp, &rec.Caption, &rec.ModelName, &rec.RawLabels, &rec.RawPPE,
		&rec.SourceLocation, &rec.ResultLocation, &rec.Classification, &rec.RiskLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return &rec, nil
}
