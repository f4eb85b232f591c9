package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaywing/relaywing/internal/bridge"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordRequestStart("/v1/messages")
	c.RecordRequest("/v1/messages", 120*time.Millisecond)
	c.RecordRequestEnd("/v1/messages")
	c.RecordError("/v1/messages")

	c.BackendCall("openai", 80*time.Millisecond, nil)
	c.BackendCall("openai", 40*time.Millisecond, errors.New("boom"))
	c.ToolExecuted("web_search", 10*time.Millisecond, nil)
	c.InjectionsApplied([]bridge.Injection{
		{Kind: bridge.InjectionReasoning, Detail: "d"},
		{Kind: bridge.InjectionWebTools, Detail: "d"},
	})
	c.InjectionsApplied([]bridge.Injection{{Kind: bridge.InjectionReasoning, Detail: "d"}})
	c.RecoveryAttempt(true)
	c.RecoveryAttempt(false)
	c.RecordRateLimitHit()
	c.RecordTokenUsage("claude-fast", 100, 50)

	s := c.GetSnapshot()

	if s.TotalRequests["/v1/messages"] != 1 {
		t.Errorf("requests = %d, want 1", s.TotalRequests["/v1/messages"])
	}
	if s.RequestsInProgress["/v1/messages"] != 0 {
		t.Errorf("in progress = %d, want 0", s.RequestsInProgress["/v1/messages"])
	}
	if s.RequestErrors["/v1/messages"] != 1 {
		t.Errorf("errors = %d, want 1", s.RequestErrors["/v1/messages"])
	}
	if s.BackendCalls["openai"] != 2 || s.BackendErrors["openai"] != 1 {
		t.Errorf("backend calls=%d errors=%d", s.BackendCalls["openai"], s.BackendErrors["openai"])
	}
	if s.BackendLatency["openai"] != 120 {
		t.Errorf("backend latency = %d, want 120", s.BackendLatency["openai"])
	}
	if s.ToolExecutions["web_search"] != 1 {
		t.Errorf("tool executions = %d, want 1", s.ToolExecutions["web_search"])
	}
	if s.InjectionsApplied[bridge.InjectionReasoning] != 2 || s.InjectionsApplied[bridge.InjectionWebTools] != 1 {
		t.Errorf("injections = %#v", s.InjectionsApplied)
	}
	if s.RecoveryAttempts != 2 || s.RecoverySuccesses != 1 {
		t.Errorf("recovery attempts=%d successes=%d", s.RecoveryAttempts, s.RecoverySuccesses)
	}
	if s.RateLimitHits != 1 {
		t.Errorf("rate limit hits = %d, want 1", s.RateLimitHits)
	}
	if s.TotalInputTokens != 100 || s.TotalOutputTokens != 50 {
		t.Errorf("tokens in=%d out=%d", s.TotalInputTokens, s.TotalOutputTokens)
	}
	if s.TokensByModel["claude-fast"] != 150 {
		t.Errorf("tokens by model = %d, want 150", s.TokensByModel["claude-fast"])
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/healthz", time.Millisecond)

	s := c.GetSnapshot()
	s.TotalRequests["/healthz"] = 999

	if got := c.GetSnapshot().TotalRequests["/healthz"]; got != 1 {
		t.Errorf("collector mutated through snapshot, got %d", got)
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/v1/messages", 100*time.Millisecond)
	c.BackendCall("native", 50*time.Millisecond, nil)
	c.InjectionsApplied([]bridge.Injection{{Kind: bridge.InjectionWebTools, Detail: "d"}})
	c.RecordTokenUsage("claude-fast", 10, 5)

	out := FormatPrometheus(c.GetSnapshot())

	for _, want := range []string{
		"# TYPE relaywing_requests_total counter",
		`relaywing_requests_total{endpoint="/v1/messages"} 1`,
		`relaywing_backend_calls_total{backend="native"} 1`,
		`relaywing_injections_applied_total{kind="web_tools"} 1`,
		`relaywing_tokens_by_model_total{model="claude-fast"} 15`,
		"relaywing_input_tokens_total 10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
