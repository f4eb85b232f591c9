package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywing/relaywing/internal/openai"
)

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"stream":false`)
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := NewChatClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	resp, err := c.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{Model: "m", Stream: true})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewChatClient(Config{BaseURL: srv.URL}, nil)
	stream, err := c.StreamChatCompletion(context.Background(), &openai.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	var text strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, chunk.Choices, 1)
		text.WriteString(chunk.Choices[0].Delta.Content)
	}
	assert.Equal(t, "hello", text.String())
}

func TestUpstreamStatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"This model's maximum context length is 8192 tokens","code":"context_length_exceeded"}}`)
	}))
	defer srv.Close()

	c := NewChatClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsContextLimit(err))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.Status)
}

func TestUpstreamPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer srv.Close()

	c := NewChatClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.False(t, IsContextLimit(err))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindUpstreamStatus, be.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, be.Status)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewChatClient(Config{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond}, nil)
	_, err := c.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestSSEScannerMultiLineData(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":\ndata: 1}\n\ndata: done\n\n"
	sc := newSSEScanner(strings.NewReader(input))

	evt, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "message_start", evt.Event)
	assert.Equal(t, "{\"a\":\n1}", evt.Data)

	evt, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "done", evt.Data)

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}
