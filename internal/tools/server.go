package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaywing/relaywing/internal/openai"
)

// ServerConfig describes one external tool server spoken to over stdio with
// line-delimited JSON-RPC.
type ServerConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServersFile is the on-disk registry of tool servers.
type ServersFile struct {
	Servers []ServerConfig `yaml:"servers"`
}

// LoadServersFile reads the tool server registry. A missing path yields an
// empty registry, not an error.
func LoadServersFile(path string) (*ServersFile, error) {
	if path == "" {
		return &ServersFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServersFile{}, nil
		}
		return nil, err
	}
	var f ServersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool servers file: %w", err)
	}
	for i := range f.Servers {
		if f.Servers[i].Name == "" {
			return nil, fmt.Errorf("tool server %d has no name", i)
		}
		if f.Servers[i].Command == "" {
			return nil, fmt.Errorf("tool server %q has no command", f.Servers[i].Name)
		}
		if f.Servers[i].Timeout <= 0 {
			f.Servers[i].Timeout = 30 * time.Second
		}
	}
	return &f, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ServerClient is one live tool server session. Calls are serialized; stdio
// servers answer one request at a time.
type ServerClient struct {
	name string

	mu     sync.Mutex
	nextID int64
	w      io.Writer
	r      *bufio.Reader

	cmd   *exec.Cmd
	tools []openai.Tool
}

// StartServer launches the process and runs the initialize handshake and
// tool discovery.
func StartServer(ctx context.Context, cfg ServerConfig, logger *log.Logger) (*ServerClient, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool server %q: %w", cfg.Name, err)
	}

	c := newServerClient(cfg.Name, stdout, stdin)
	c.cmd = cmd

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := c.initialize(initCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize tool server %q: %w", cfg.Name, err)
	}
	if logger != nil {
		logger.Printf("[INFO] tool server %q ready with %d tools", cfg.Name, len(c.tools))
	}
	return c, nil
}

func newServerClient(name string, r io.Reader, w io.Writer) *ServerClient {
	return &ServerClient{
		name: name,
		w:    w,
		r:    bufio.NewReader(r),
	}
}

func (c *ServerClient) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("tool server %q: write: %w", c.name, err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := c.r.ReadBytes('\n')
		ch <- readResult{line, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("tool server %q: %w", c.name, ctx.Err())
	case rr := <-ch:
		if rr.err != nil {
			return fmt.Errorf("tool server %q: read: %w", c.name, rr.err)
		}
		var resp rpcResponse
		if err := json.Unmarshal(rr.line, &resp); err != nil {
			return fmt.Errorf("tool server %q: decode: %w", c.name, err)
		}
		if resp.Error != nil {
			return fmt.Errorf("tool server %q: %w", c.name, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func (c *ServerClient) initialize(ctx context.Context) error {
	if err := c.call(ctx, "initialize", map[string]any{"client": "relaywing"}, nil); err != nil {
		return err
	}
	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		} `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", nil, &listed); err != nil {
		return err
	}
	for _, t := range listed.Tools {
		c.tools = append(c.tools, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return nil
}

// Tools returns the definitions the server exported at startup.
func (c *ServerClient) Tools() []openai.Tool { return c.tools }

// CallTool invokes one tool and flattens the result to text.
func (c *ServerClient) CallTool(ctx context.Context, name string, input map[string]any) (string, error) {
	var result struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"is_error"`
	}
	params := map[string]any{"name": name, "input": input}
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return "", err
	}
	text := flattenRPCContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %q failed: %s", name, text)
	}
	return text, nil
}

// flattenRPCContent accepts a bare string or an array of typed text parts.
func flattenRPCContent(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return trimmed
}

// Close terminates the session and the process behind it.
func (c *ServerClient) Close() error {
	if c.cmd == nil {
		return nil
	}
	if wc, ok := c.w.(io.Closer); ok {
		wc.Close()
	}
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		c.cmd.Process.Kill()
		return <-done
	}
}
