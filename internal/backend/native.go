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

	"github.com/relaywing/relaywing/internal/claude"
)

// NativeClient speaks the block-structured dialect directly. The upstream
// variant diverges from the inbound protocol in places, so replies still go
// through reconstruction rather than being proxied verbatim.
type NativeClient struct {
	cfg    Config
	client *http.Client
	log    *log.Logger
}

// NewNativeClient builds a client for the native endpoint.
func NewNativeClient(cfg Config, logger *log.Logger) *NativeClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NativeClient{
		cfg:    cfg,
		client: &http.Client{},
		log:    logger,
	}
}

func (c *NativeClient) newRequest(ctx context.Context, req *claude.MessagesRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	}
	return httpReq, nil
}

// CreateMessage performs one buffered call.
func (c *NativeClient) CreateMessage(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error) {
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

	var out claude.MessagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, protocolError("decode message", err)
	}
	return &out, nil
}

// StreamMessage opens a streaming call and returns the event stream.
func (c *NativeClient) StreamMessage(ctx context.Context, req *claude.MessagesRequest) (*EventStream, error) {
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

	return &EventStream{
		scanner: newSSEScanner(httpResp.Body),
		body:    httpResp.Body,
		cancel:  cancel,
	}, nil
}

// EventStream iterates typed events off an open native stream.
type EventStream struct {
	scanner *sseScanner
	body    io.Closer
	cancel  context.CancelFunc
}

// Recv returns the next event, or io.EOF after message_stop.
func (s *EventStream) Recv() (*claude.StreamEvent, error) {
	for {
		raw, err := s.scanner.Next()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, classifyTransport(err)
		}
		if raw.Data == "" || raw.Data == "[DONE]" {
			if raw.Data == "[DONE]" {
				return nil, io.EOF
			}
			continue
		}
		var evt claude.StreamEvent
		if err := json.Unmarshal([]byte(raw.Data), &evt); err != nil {
			return nil, protocolError("decode event", err)
		}
		if evt.Type == "" {
			evt.Type = raw.Event
		}
		if evt.Type == "ping" {
			continue
		}
		return &evt, nil
	}
}

// Close releases the connection.
func (s *EventStream) Close() error {
	s.cancel()
	return s.body.Close()
}
