package metrics

import (
	"sync"
	"time"

	"github.com/relaywing/relaywing/internal/bridge"
)

// Collector tracks gateway activity with manual counters. The snapshot is
// served as JSON on the admin API and in Prometheus text format.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	// Backend metrics
	backendCalls   map[string]int64 // by backend (native, openai, alt)
	backendErrors  map[string]int64
	backendLatency map[string]int64 // total latency in ms

	// Tool metrics
	toolExecutions map[string]int64 // by canonical tool name
	toolErrors     map[string]int64
	toolLatency    map[string]int64

	// Request modifications
	injectionsApplied map[string]int64 // by injection kind

	// Context recovery
	recoveryAttempts  int64
	recoverySuccesses int64

	// Rate limit metrics
	rateLimitHits int64

	// Token usage metrics
	totalInputTokens  int64
	totalOutputTokens int64
	tokensByModel     map[string]int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		backendCalls:       make(map[string]int64),
		backendErrors:      make(map[string]int64),
		backendLatency:     make(map[string]int64),
		toolExecutions:     make(map[string]int64),
		toolErrors:         make(map[string]int64),
		toolLatency:        make(map[string]int64),
		injectionsApplied:  make(map[string]int64),
		tokensByModel:      make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a completed request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// RecordTokenUsage records token usage for a model.
func (c *Collector) RecordTokenUsage(model string, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalInputTokens += inputTokens
	c.totalOutputTokens += outputTokens
	if model != "" {
		c.tokensByModel[model] += inputTokens + outputTokens
	}
}

// BackendCall records one upstream call. Implements the orchestrator's
// observer contract.
func (c *Collector) BackendCall(backendName string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backendCalls[backendName]++
	c.backendLatency[backendName] += duration.Milliseconds()
	if err != nil {
		c.backendErrors[backendName]++
	}
}

// ToolExecuted records one internal tool execution.
func (c *Collector) ToolExecuted(name string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolExecutions[name]++
	c.toolLatency[name] += duration.Milliseconds()
	if err != nil {
		c.toolErrors[name]++
	}
}

// InjectionsApplied records request modifications made on the client's behalf.
func (c *Collector) InjectionsApplied(injections []bridge.Injection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, inj := range injections {
		c.injectionsApplied[inj.Kind]++
	}
}

// RecoveryAttempt records one context recovery run.
func (c *Collector) RecoveryAttempt(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recoveryAttempts++
	if success {
		c.recoverySuccesses++
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64            `json:"uptime_seconds"`
	TotalRequests      map[string]int64 `json:"requests_total"`
	TotalRequestsDur   map[string]int64 `json:"request_duration_ms_total"`
	RequestErrors      map[string]int64 `json:"request_errors_total"`
	RequestsInProgress map[string]int64 `json:"requests_in_progress"`
	BackendCalls       map[string]int64 `json:"backend_calls_total"`
	BackendErrors      map[string]int64 `json:"backend_errors_total"`
	BackendLatency     map[string]int64 `json:"backend_latency_ms_total"`
	ToolExecutions     map[string]int64 `json:"tool_executions_total"`
	ToolErrors         map[string]int64 `json:"tool_errors_total"`
	ToolLatency        map[string]int64 `json:"tool_latency_ms_total"`
	InjectionsApplied  map[string]int64 `json:"injections_applied_total"`
	RecoveryAttempts   int64            `json:"recovery_attempts_total"`
	RecoverySuccesses  int64            `json:"recovery_successes_total"`
	RateLimitHits      int64            `json:"rate_limit_hits_total"`
	TotalInputTokens   int64            `json:"input_tokens_total"`
	TotalOutputTokens  int64            `json:"output_tokens_total"`
	TokensByModel      map[string]int64 `json:"tokens_by_model_total"`
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		BackendCalls:       copyMap(c.backendCalls),
		BackendErrors:      copyMap(c.backendErrors),
		BackendLatency:     copyMap(c.backendLatency),
		ToolExecutions:     copyMap(c.toolExecutions),
		ToolErrors:         copyMap(c.toolErrors),
		ToolLatency:        copyMap(c.toolLatency),
		InjectionsApplied:  copyMap(c.injectionsApplied),
		RecoveryAttempts:   c.recoveryAttempts,
		RecoverySuccesses:  c.recoverySuccesses,
		RateLimitHits:      c.rateLimitHits,
		TotalInputTokens:   c.totalInputTokens,
		TotalOutputTokens:  c.totalOutputTokens,
		TokensByModel:      copyMap(c.tokensByModel),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
