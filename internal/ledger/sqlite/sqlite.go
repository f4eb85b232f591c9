package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/relaywing/relaywing/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS request_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	backend TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	stop_reason TEXT,
	tools_used TEXT,
	streamed INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_request_entries_created ON request_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_request_entries_model_created ON request_entries(model, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one request entry. Tool names are stored comma-joined since
// SQLite has no array type.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.Model == "" {
		return errors.New("ledger record requires model")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO request_entries(request_id, model, backend, input_tokens, output_tokens, stop_reason, tools_used, streamed, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.Model,
		entry.Backend,
		entry.InputTokens,
		entry.OutputTokens,
		entry.StopReason,
		strings.Join(entry.ToolsUsed, ","),
		entry.Streamed,
		entry.DurationMs,
		created,
	)
	return err
}

// Summary returns aggregated usage since the given time.
func (s *Store) Summary(ctx context.Context, since time.Time) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM request_entries
WHERE created_at >= ?`, since)

	var out ledger.Summary
	if err := row.Scan(&out.Requests, &out.InputTokens, &out.OutputTokens); err != nil {
		return ledger.Summary{}, err
	}
	return out, nil
}

// SummaryByModel returns per-model aggregates since the given time.
func (s *Store) SummaryByModel(ctx context.Context, since time.Time) ([]ledger.ModelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM request_entries
WHERE created_at >= ?
GROUP BY model
ORDER BY model`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ModelSummary
	for rows.Next() {
		var m ledger.ModelSummary
		if err := rows.Scan(&m.Model, &m.Requests, &m.InputTokens, &m.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, model, backend, input_tokens, output_tokens, stop_reason, tools_used, streamed, duration_ms, created_at
FROM request_entries
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var tools string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Model, &e.Backend, &e.InputTokens, &e.OutputTokens, &e.StopReason, &tools, &e.Streamed, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		if tools != "" {
			e.ToolsUsed = strings.Split(tools, ",")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
