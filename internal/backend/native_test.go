package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywing/relaywing/internal/claude"
)

func TestNativeCreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-native", r.Header.Get("x-api-key"))
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":2,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := NewNativeClient(Config{BaseURL: srv.URL, APIKey: "sk-native"}, nil)
	resp, err := c.CreateMessage(context.Background(), &claude.MessagesRequest{Model: "m"})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi", resp.Content[0].Text)
	assert.Equal(t, claude.StopEndTurn, resp.StopReason)
}

func TestNativeStreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"m\"}}\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := NewNativeClient(Config{BaseURL: srv.URL}, nil)
	stream, err := c.StreamMessage(context.Background(), &claude.MessagesRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	for {
		evt, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, evt.Type)
		if evt.Type == claude.EventMessageStop {
			break
		}
	}
	assert.Equal(t, []string{
		claude.EventMessageStart,
		claude.EventContentBlockDelta,
		claude.EventMessageStop,
	}, types)
}
