package tools

import (
	"context"
	"strings"
	"sync"
)

// Executor runs one gateway-handled tool.
type Executor interface {
	// Name returns the canonical tool name.
	Name() string
	// Execute runs the tool and returns its textual result.
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// aliases maps the name variants models emit onto canonical tool names.
// Lookup is case-insensitive.
var aliases = map[string]string{
	"websearch":  "web_search",
	"web-search": "web_search",
	"search_web": "web_search",
	"webread":    "web_read",
	"web-read":   "web_read",
	"read_url":   "web_read",
	"fetch_url":  "web_read",
}

// Canonicalize resolves a raw tool name to its canonical form.
func Canonicalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Registry holds the executors the gateway runs itself. A tool call whose
// canonical name resolves here is internal; everything else belongs to the
// client. Classification is recomputed on every call so a registry change
// takes effect mid-conversation.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under its canonical name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[Canonicalize(e.Name())] = e
}

// Lookup resolves a raw tool name to its executor.
func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[Canonicalize(name)]
	return e, ok
}

// IsInternal reports whether the gateway executes this tool itself.
func (r *Registry) IsInternal(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered canonical names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	return names
}
