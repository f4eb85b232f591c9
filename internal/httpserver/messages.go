package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/events"
	"github.com/relaywing/relaywing/internal/ledger"
	"github.com/relaywing/relaywing/internal/orchestrator"
	"github.com/relaywing/relaywing/internal/stream"
)

const endpointMessages = "/v1/messages"

// HandleMessages serves POST /v1/messages, buffered or streaming depending on
// the request's stream flag.
func (s *Server) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.RecordRequestStart(endpointMessages)
		defer s.metrics.RecordRequestEnd(endpointMessages)
	}
	start := time.Now()

	var req claude.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		s.recordError(endpointMessages)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		s.recordError(endpointMessages)
		return
	}

	if req.Stream {
		s.streamMessages(w, r, &req, start)
		return
	}
	s.completeMessages(w, r, &req, start)
}

func (s *Server) completeMessages(w http.ResponseWriter, r *http.Request, req *claude.MessagesRequest, start time.Time) {
	resp, err := s.engine.Complete(r.Context(), req)
	duration := time.Since(start)

	if err != nil {
		errType := orchestrator.ErrorType(err)
		s.logger.Printf("[ERROR] messages request failed: %v", err)
		s.writeError(w, statusForErrorType(errType), errType, orchestrator.ErrorMessage(err))
		s.recordError(endpointMessages)
		s.emitEvent(r, req, events.EventRequestFailed, map[string]any{"error_type": errType})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	s.recordRequest(endpointMessages, duration)
	s.recordLedger(r, req, ledger.Entry{
		Model:        req.Model,
		InputTokens:  int64(resp.Usage.InputTokens),
		OutputTokens: int64(resp.Usage.OutputTokens),
		StopReason:   resp.StopReason,
		ToolsUsed:    toolNames(resp.Content),
		DurationMs:   duration.Milliseconds(),
	})
	if s.metrics != nil {
		s.metrics.RecordTokenUsage(req.Model, int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens))
	}
	s.emitEvent(r, req, events.EventRequestCompleted, map[string]any{
		"stop_reason": resp.StopReason,
		"duration_ms": duration.Milliseconds(),
	})
}

func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, req *claude.MessagesRequest, start time.Time) {
	emitter := stream.NewSSEEmitter(w)
	writer := stream.NewWriter(emitter, "msg_"+uuid.NewString(), req.Model)

	err := s.engine.Stream(r.Context(), req, writer)
	duration := time.Since(start)

	if err != nil {
		// The writer already delivered the error event; here we only account.
		s.logger.Printf("[ERROR] messages stream failed after %s (last event %q): %v",
			duration, writer.LastEvent(), err)
		s.recordError(endpointMessages)
		s.emitEvent(r, req, events.EventRequestFailed, map[string]any{
			"error_type": orchestrator.ErrorType(err),
			"streamed":   true,
		})
		return
	}

	usage := writer.FinalUsage()
	s.recordRequest(endpointMessages, duration)
	s.recordLedger(r, req, ledger.Entry{
		Model:        req.Model,
		InputTokens:  int64(usage.InputTokens),
		OutputTokens: int64(usage.OutputTokens),
		StopReason:   writer.FinalStopReason(),
		Streamed:     true,
		DurationMs:   duration.Milliseconds(),
	})
	if s.metrics != nil {
		s.metrics.RecordTokenUsage(req.Model, int64(usage.InputTokens), int64(usage.OutputTokens))
	}
	s.emitEvent(r, req, events.EventRequestCompleted, map[string]any{
		"stop_reason": writer.FinalStopReason(),
		"duration_ms": duration.Milliseconds(),
		"streamed":    true,
	})
}

// HandleCountTokens serves POST /v1/messages/count_tokens with a character
// based estimate. No backend call is made.
func (s *Server) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req claude.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}

	chars := len(req.System.Flatten())
	for _, msg := range req.Messages {
		for _, blk := range msg.Content.Blocks {
			chars += len(blk.Text) + len(blk.Thinking)
			if blk.Input != nil {
				if raw, err := json.Marshal(blk.Input); err == nil {
					chars += len(raw)
				}
			}
			for _, inner := range blk.Content {
				chars += len(inner.Text)
			}
		}
	}
	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description)
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			chars += len(raw)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"input_tokens": (chars + 3) / 4})
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(claude.NewErrorEnvelope(errType, message))
}

func statusForErrorType(errType string) int {
	switch errType {
	case "invalid_request_error":
		return http.StatusBadRequest
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "timeout_error":
		return http.StatusGatewayTimeout
	case "overloaded_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toolNames(blocks []claude.ContentBlock) []string {
	var names []string
	for _, blk := range blocks {
		if blk.Type == claude.BlockToolUse {
			names = append(names, blk.Name)
		}
	}
	return names
}

func (s *Server) recordRequest(endpoint string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRequest(endpoint, d)
	}
}

func (s *Server) recordError(endpoint string) {
	if s.metrics != nil {
		s.metrics.RecordError(endpoint)
	}
}

func (s *Server) recordLedger(r *http.Request, req *claude.MessagesRequest, entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	entry.RequestID = middleware.GetReqID(r.Context())
	entry.Backend = s.bridge.Route(req).Backend
	if err := s.ledger.Record(r.Context(), entry); err != nil {
		s.logger.Printf("[WARN] ledger record failed: %v", err)
	}
}

func (s *Server) emitEvent(r *http.Request, req *claude.MessagesRequest, evtType events.EventType, meta map[string]any) {
	if s.events == nil {
		return
	}
	evt := events.Event{
		ID:         uuid.NewString(),
		Type:       evtType,
		OccurredAt: time.Now().UTC(),
		RequestID:  middleware.GetReqID(r.Context()),
		Model:      req.Model,
		Backend:    s.bridge.Route(req).Backend,
		Metadata:   meta,
	}
	if err := s.events.Emit(r.Context(), evt); err != nil {
		s.logger.Printf("[WARN] event handler failed for %s: %v", evt.Type, err)
	}
}
