package claude

// Stop reasons emitted to the caller.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// MessagesResponse is the buffered /v1/messages reply.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Usage mirrors the inbound protocol's token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorEnvelope is the structured error body returned to callers. It mirrors
// the inbound protocol's own error shape so clients need no special handling.
type ErrorEnvelope struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error class and a caller-safe message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorEnvelope builds the standard error body.
func NewErrorEnvelope(errType, message string) ErrorEnvelope {
	return ErrorEnvelope{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}
