package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus renders a snapshot in Prometheus text exposition format.
// We format by hand rather than pulling in the client library; the metric
// set is small and entirely counter or gauge shaped.
func FormatPrometheus(s Snapshot) string {
	var b strings.Builder

	b.WriteString("# HELP relaywing_uptime_seconds Time since the gateway started.\n")
	b.WriteString("# TYPE relaywing_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "relaywing_uptime_seconds %d\n", s.Uptime)

	writeLabeled(&b, "relaywing_requests_total", "counter",
		"Total requests handled, by endpoint.", "endpoint", s.TotalRequests)
	writeLabeled(&b, "relaywing_request_duration_ms_total", "counter",
		"Cumulative request duration in milliseconds, by endpoint.", "endpoint", s.TotalRequestsDur)
	writeLabeled(&b, "relaywing_request_errors_total", "counter",
		"Total request errors, by endpoint.", "endpoint", s.RequestErrors)
	writeLabeled(&b, "relaywing_requests_in_progress", "gauge",
		"Requests currently being handled, by endpoint.", "endpoint", s.RequestsInProgress)

	writeLabeled(&b, "relaywing_backend_calls_total", "counter",
		"Total upstream backend calls, by backend.", "backend", s.BackendCalls)
	writeLabeled(&b, "relaywing_backend_errors_total", "counter",
		"Total upstream backend call failures, by backend.", "backend", s.BackendErrors)
	writeLabeled(&b, "relaywing_backend_latency_ms_total", "counter",
		"Cumulative upstream call latency in milliseconds, by backend.", "backend", s.BackendLatency)

	writeLabeled(&b, "relaywing_tool_executions_total", "counter",
		"Total internal tool executions, by tool.", "tool", s.ToolExecutions)
	writeLabeled(&b, "relaywing_tool_errors_total", "counter",
		"Total internal tool execution failures, by tool.", "tool", s.ToolErrors)
	writeLabeled(&b, "relaywing_tool_latency_ms_total", "counter",
		"Cumulative tool execution latency in milliseconds, by tool.", "tool", s.ToolLatency)

	writeLabeled(&b, "relaywing_injections_applied_total", "counter",
		"Request modifications applied on the client's behalf, by kind.", "kind", s.InjectionsApplied)

	b.WriteString("# HELP relaywing_recovery_attempts_total Context limit recovery attempts.\n")
	b.WriteString("# TYPE relaywing_recovery_attempts_total counter\n")
	fmt.Fprintf(&b, "relaywing_recovery_attempts_total %d\n", s.RecoveryAttempts)

	b.WriteString("# HELP relaywing_recovery_successes_total Context limit recoveries that produced a response.\n")
	b.WriteString("# TYPE relaywing_recovery_successes_total counter\n")
	fmt.Fprintf(&b, "relaywing_recovery_successes_total %d\n", s.RecoverySuccesses)

	b.WriteString("# HELP relaywing_rate_limit_hits_total Requests rejected by the rate limiter.\n")
	b.WriteString("# TYPE relaywing_rate_limit_hits_total counter\n")
	fmt.Fprintf(&b, "relaywing_rate_limit_hits_total %d\n", s.RateLimitHits)

	b.WriteString("# HELP relaywing_input_tokens_total Total input tokens across all requests.\n")
	b.WriteString("# TYPE relaywing_input_tokens_total counter\n")
	fmt.Fprintf(&b, "relaywing_input_tokens_total %d\n", s.TotalInputTokens)

	b.WriteString("# HELP relaywing_output_tokens_total Total output tokens across all requests.\n")
	b.WriteString("# TYPE relaywing_output_tokens_total counter\n")
	fmt.Fprintf(&b, "relaywing_output_tokens_total %d\n", s.TotalOutputTokens)

	writeLabeled(&b, "relaywing_tokens_by_model_total", "counter",
		"Total tokens (input plus output), by model.", "model", s.TokensByModel)

	return b.String()
}

func writeLabeled(b *strings.Builder, name, kind, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
