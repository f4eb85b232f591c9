package stream

import (
	"fmt"
	"net/http"
)

// Emitter receives outbound stream events. The SSE emitter serves production
// traffic; the Collector captures events for assertions.
type Emitter interface {
	Emit(event string, payload []byte) error
}

// SSEEmitter frames events onto an HTTP response and flushes after each one.
type SSEEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter prepares the response for event streaming and returns the
// emitter. Responses without flush support still work, just without
// incremental delivery.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &SSEEmitter{w: w, flusher: flusher}
}

// Emit writes one framed event.
func (e *SSEEmitter) Emit(event string, payload []byte) error {
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// CollectedEvent is one event captured by the Collector.
type CollectedEvent struct {
	Event   string
	Payload string
}

// Collector records events in order.
type Collector struct {
	Events []CollectedEvent
}

// Emit appends the event.
func (c *Collector) Emit(event string, payload []byte) error {
	c.Events = append(c.Events, CollectedEvent{Event: event, Payload: string(payload)})
	return nil
}
