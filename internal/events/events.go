package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// EventType names the lifecycle transitions the gateway exports. Downstream
// systems (audit sinks, billing pipelines, alerting scripts) can subscribe to
// these events to mirror request activity.
type EventType string

const (
	// EventRequestCompleted is emitted after a request finishes successfully.
	EventRequestCompleted EventType = "gateway.request.completed"
	// EventRequestFailed is emitted when a request ends in an error.
	EventRequestFailed EventType = "gateway.request.failed"
	// EventToolExecuted is emitted after each internal tool run.
	EventToolExecuted EventType = "gateway.tool.executed"
	// EventInjectionsApplied is emitted when the gateway modifies an outbound
	// request on the client's behalf.
	EventInjectionsApplied EventType = "gateway.injections.applied"
	// EventRecoveryAttempted is emitted when context limit recovery runs.
	EventRecoveryAttempted EventType = "gateway.recovery.attempted"
	// EventRateLimited is emitted when the rate limiter rejects a request.
	EventRateLimited EventType = "gateway.ratelimit.exceeded"
)

// Event envelopes the concrete payload we broadcast to listeners.
type Event struct {
	ID         string         // globally unique event identifier
	Type       EventType      // lifecycle transition identifier
	OccurredAt time.Time      // timestamp of emission
	RequestID  string         // request associated with the event
	Model      string         // model named by the client request
	Backend    string         // backend that served the request
	Metadata   map[string]any // extensible JSON-friendly payload
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher coordinates handler registration and event fan-out.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Register adds a new handler. Handlers fire sequentially in registration
// order so operators can reason about side effects.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers an event to all registered handlers. Errors are aggregated so
// callers can surface each failure in logs or telemetry.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ScriptConfig describes how to invoke an external command when events fire.
// This lets operators pipe gateway activity into their own tooling without
// waiting for native integrations.
type ScriptConfig struct {
	Command string            // required executable (absolute or PATH lookup)
	Args    []string          // static arguments passed to the executable
	Env     map[string]string // optional environment overrides
	Timeout time.Duration     // optional max execution time
}

// MarshalEvent converts an Event into the wire format presented to scripts.
// Packages embedding the dispatcher can override this variable to swap JSON
// for other encodings or to inject additional metadata.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN. It is a bridge for the CLI/config layer.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("events: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("events: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("events: stdin pipe: %w", err)
		}

		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("events: command failed: %w", err)
		}

		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope. It is the
// default MarshalEvent implementation.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID         string         `json:"id"`
		Type       EventType      `json:"type"`
		OccurredAt time.Time      `json:"occurred_at"`
		RequestID  string         `json:"request_id"`
		Model      string         `json:"model"`
		Backend    string         `json:"backend"`
		Metadata   map[string]any `json:"metadata"`
	}{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		RequestID:  evt.RequestID,
		Model:      evt.Model,
		Backend:    evt.Backend,
		Metadata:   evt.Metadata,
	}
	return json.Marshal(envelope)
}
