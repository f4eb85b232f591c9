package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaywing/relaywing/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordAndSummary(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	record := func(model string, in, out int64, tools []string) {
		if err := store.Record(ctx, ledger.Entry{
			RequestID:    "req-1",
			Model:        model,
			Backend:      "openai",
			InputTokens:  in,
			OutputTokens: out,
			StopReason:   "end_turn",
			ToolsUsed:    tools,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record("claude-fast", 100, 50, []string{"web_search"})
	record("claude-fast", 60, 20, nil)
	record("claude-vision", 30, 10, nil)

	summary, err := store.Summary(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Requests != 3 {
		t.Fatalf("expected 3 requests, got %d", summary.Requests)
	}
	if summary.InputTokens != 190 || summary.OutputTokens != 80 {
		t.Fatalf("unexpected totals %+v", summary)
	}

	byModel, err := store.SummaryByModel(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("expected 2 models, got %d", len(byModel))
	}
	if byModel[0].Model != "claude-fast" || byModel[0].Requests != 2 {
		t.Fatalf("unexpected first model %+v", byModel[0])
	}
}

func TestListRecentOrdering(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entries := []ledger.Entry{
		{Model: "m", Backend: "openai", InputTokens: 1, OutputTokens: 1, CreatedAt: time.Now().Add(-2 * time.Hour)},
		{Model: "m", Backend: "openai", InputTokens: 2, OutputTokens: 2, CreatedAt: time.Now().Add(-1 * time.Hour)},
		{Model: "m", Backend: "native", InputTokens: 3, OutputTokens: 3, ToolsUsed: []string{"web_search", "web_read"}, CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].InputTokens != 3 || recent[1].InputTokens != 2 {
		t.Fatalf("unexpected ordering %#v", recent)
	}
	if len(recent[0].ToolsUsed) != 2 || recent[0].ToolsUsed[0] != "web_search" {
		t.Fatalf("tools round trip failed %#v", recent[0].ToolsUsed)
	}
}

func TestRecordValidation(t *testing.T) {
	store := newStore(t)
	if err := store.Record(context.Background(), ledger.Entry{Backend: "openai"}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
