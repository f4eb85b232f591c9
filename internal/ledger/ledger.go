package ledger

import (
	"context"
	"time"
)

// Entry is one completed request written to the usage ledger.
type Entry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Model        string    `json:"model"`
	Backend      string    `json:"backend"` // native | openai | alt
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	StopReason   string    `json:"stop_reason"`
	ToolsUsed    []string  `json:"tools_used,omitempty"`
	Streamed     bool      `json:"streamed"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary aggregates usage over a window.
type Summary struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ModelSummary is per-model aggregated usage.
type ModelSummary struct {
	Model string `json:"model"`
	Summary
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, since time.Time) (Summary, error)
	SummaryByModel(ctx context.Context, since time.Time) ([]ModelSummary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
