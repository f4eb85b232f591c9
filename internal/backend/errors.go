package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies failures so callers can decide between surfacing, retrying,
// and running context recovery.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindProtocol
	KindUpstreamStatus
	KindContextLimit
)

// Error is the gateway-facing view of a failed backend call.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status when Kind is KindUpstreamStatus or KindContextLimit
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
	}
	return "backend: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsContextLimit reports whether err indicates the request exceeded the
// model's context window.
func IsContextLimit(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindContextLimit
}

// IsTimeout reports whether err was a deadline rather than a refusal.
func IsTimeout(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindTimeout
}

// contextLimitMarkers are substrings providers put in context-window errors.
// Matching is case-insensitive over the response body.
var contextLimitMarkers = []string{
	"context length",
	"context_length_exceeded",
	"maximum context",
	"context window",
	"too many tokens",
	"prompt is too long",
	"input is too long",
}

// classifyStatus turns a non-2xx upstream reply into a typed error, sniffing
// the body for context-window markers first.
func classifyStatus(status int, body []byte) *Error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = "upstream returned an error"
	}
	if len(message) > 2048 {
		message = message[:2048]
	}
	lower := strings.ToLower(message)
	for _, marker := range contextLimitMarkers {
		if strings.Contains(lower, marker) {
			return &Error{Kind: KindContextLimit, Status: status, Message: message}
		}
	}
	return &Error{Kind: KindUpstreamStatus, Status: status, Message: message}
}

// classifyTransport turns transport-level failures into typed errors.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// protocolError marks a 2xx reply whose body could not be decoded.
func protocolError(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: op + ": " + err.Error(), Err: err}
}
