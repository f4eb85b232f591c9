package events

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/relaywing/relaywing/internal/bridge"
)

// Observer bridges orchestrator lifecycle callbacks onto the dispatcher.
// Emit errors are logged, never propagated, so a failing hook script cannot
// break request handling.
type Observer struct {
	Dispatcher *Dispatcher
	Logger     *log.Logger
}

func (o *Observer) emit(evt Event) {
	evt.ID = uuid.NewString()
	evt.OccurredAt = time.Now().UTC()
	if err := o.Dispatcher.Emit(context.Background(), evt); err != nil && o.Logger != nil {
		o.Logger.Printf("[WARN] event handler failed for %s: %v", evt.Type, err)
	}
}

// BackendCall is a no-op; backend call activity is covered by the request
// completed and failed events emitted at the HTTP layer.
func (o *Observer) BackendCall(name string, duration time.Duration, err error) {}

// ToolExecuted emits a tool execution event.
func (o *Observer) ToolExecuted(name string, duration time.Duration, err error) {
	meta := map[string]any{
		"tool":        name,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	o.emit(Event{Type: EventToolExecuted, Metadata: meta})
}

// InjectionsApplied emits one event describing every modification the gateway
// made to an outbound request.
func (o *Observer) InjectionsApplied(injections []bridge.Injection) {
	kinds := make([]string, 0, len(injections))
	details := make([]string, 0, len(injections))
	for _, inj := range injections {
		kinds = append(kinds, inj.Kind)
		details = append(details, inj.Detail)
	}
	o.emit(Event{
		Type: EventInjectionsApplied,
		Metadata: map[string]any{
			"kinds":   kinds,
			"details": details,
		},
	})
}

// RecoveryAttempt emits a context recovery event.
func (o *Observer) RecoveryAttempt(success bool) {
	o.emit(Event{
		Type:     EventRecoveryAttempted,
		Metadata: map[string]any{"success": success},
	})
}
