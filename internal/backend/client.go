package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/relaywing/relaywing/internal/openai"
)

// Config holds connection settings for one chat-completions endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration // buffered calls
	StreamTimeout  time.Duration // whole-stream ceiling, longer than RequestTimeout
}

// ChatClient speaks the chat-completions dialect over HTTP. It serves both
// the openai-style and alt endpoints; the two differ only in base URL, key,
// and which reasoning field their replies carry.
type ChatClient struct {
	cfg    Config
	client *http.Client
	log    *log.Logger
}

// NewChatClient builds a client. Timeouts are enforced per call through the
// request context so one http.Client can serve both buffered and streaming
// paths.
func NewChatClient(cfg Config, logger *log.Logger) *ChatClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ChatClient{
		cfg:    cfg,
		client: &http.Client{},
		log:    logger,
	}
}

func (c *ChatClient) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

func (c *ChatClient) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// CreateChatCompletion performs one buffered completion call.
func (c *ChatClient) CreateChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req.Stream = false
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		return nil, classifyStatus(httpResp.StatusCode, body)
	}

	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, protocolError("decode completion", err)
	}
	return &out, nil
}

// StreamChatCompletion opens a streaming completion. The caller owns the
// returned stream and must Close it; cancel stops the underlying transfer.
func (c *ChatClient) StreamChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*ChunkStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)

	req.Stream = true
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransport(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		httpResp.Body.Close()
		cancel()
		return nil, classifyStatus(httpResp.StatusCode, body)
	}

	return &ChunkStream{
		scanner: newSSEScanner(httpResp.Body),
		body:    httpResp.Body,
		cancel:  cancel,
	}, nil
}

// ChunkStream iterates delta chunks off an open SSE response.
type ChunkStream struct {
	scanner *sseScanner
	body    io.Closer
	cancel  context.CancelFunc
}

// Recv returns the next chunk, or io.EOF after the terminal sentinel.
func (s *ChunkStream) Recv() (*openai.ChatCompletionChunk, error) {
	for {
		evt, err := s.scanner.Next()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, classifyTransport(err)
		}
		if evt.Data == "" {
			continue
		}
		if evt.Data == "[DONE]" {
			return nil, io.EOF
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(evt.Data), &chunk); err != nil {
			// Providers occasionally interleave keepalive junk; skip it.
			continue
		}
		return &chunk, nil
	}
}

// Close releases the connection.
func (s *ChunkStream) Close() error {
	s.cancel()
	return s.body.Close()
}
