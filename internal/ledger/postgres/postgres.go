package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/relaywing/relaywing/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	model TEXT NOT NULL,
	backend TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	stop_reason TEXT,
	tools_used TEXT[] NOT NULL DEFAULT '{}',
	streamed BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

// Record inserts one request entry.
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID,
		entry.Model,
		entry.Backend,
		entry.InputTokens,
		entry.OutputTokens,
		entry.StopReason,
		pq.Array(entry.ToolsUsed),
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
WHERE created_at >= $1`, since)

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
WHERE created_at >= $1
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
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var tools pq.StringArray
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Model, &e.Backend, &e.InputTokens, &e.OutputTokens, &e.StopReason, &tools, &e.Streamed, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ToolsUsed = []string(tools)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
