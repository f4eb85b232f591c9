package claude

import "strconv"

// MessagesRequest is the inbound /v1/messages payload.
type MessagesRequest struct {
	Model         string      `json:"model"`
	Messages      []Message   `json:"messages"`
	System        SystemField `json:"system,omitempty"`
	Tools         []Tool      `json:"tools,omitempty"`
	MaxTokens     int         `json:"max_tokens,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is a caller-supplied tool definition.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Validate rejects requests that cannot be served before any backend call.
func (r *MessagesRequest) Validate() error {
	if r.Model == "" {
		return &InvalidRequestError{Field: "model", Reason: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &InvalidRequestError{Field: "messages", Reason: "at least one message is required"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "user", "assistant":
		default:
			return &InvalidRequestError{Field: "messages", Reason: "unsupported role " + m.Role + " at index " + strconv.Itoa(i)}
		}
	}
	if r.MaxTokens < 0 {
		return &InvalidRequestError{Field: "max_tokens", Reason: "must be non-negative"}
	}
	return nil
}

// InvalidRequestError reports a malformed inbound payload.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Field + ": " + e.Reason
}
