package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gophers", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"results":[
			{"title":"Go","url":"https://go.dev","content":"The Go programming language"},
			{"title":"Gopher","url":"https://example.com/gopher","content":""}
		]}`)
	}))
	defer srv.Close()

	r := NewRegistry()
	RegisterWebTools(r, WebConfig{SearchURL: srv.URL})

	e, ok := r.Lookup("web_search")
	require.True(t, ok)
	out, err := e.Execute(context.Background(), map[string]any{"query": "gophers"})
	require.NoError(t, err)
	assert.Contains(t, out, "1. Go")
	assert.Contains(t, out, "https://go.dev")
	assert.Contains(t, out, "2. Gopher")
}

func TestWebSearchRequiresQuery(t *testing.T) {
	r := NewRegistry()
	RegisterWebTools(r, WebConfig{SearchURL: "http://localhost:1"})
	e, _ := r.Lookup("web_search")
	_, err := e.Execute(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestWebRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><style>body{color:red}</style></head>
			<body><script>alert(1)</script><h1>Title</h1><p>Hello <b>world</b></p></body></html>`)
	}))
	defer srv.Close()

	r := NewRegistry()
	RegisterWebTools(r, WebConfig{})
	e, _ := r.Lookup("web_read")
	out, err := e.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Title Hello world", out)
}

func TestWebReadRejectsBadScheme(t *testing.T) {
	r := NewRegistry()
	RegisterWebTools(r, WebConfig{})
	e, _ := r.Lookup("web_read")
	_, err := e.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"})
	assert.Error(t, err)
}

func TestStripHTML(t *testing.T) {
	in := `<div>a<script>junk()</script> b   <span>c</span></div>`
	assert.Equal(t, "a b c", stripHTML(in))
}
