package tools

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/relaywing/relaywing/internal/openai"
)

// Pool owns the tool server sessions. Sessions start lazily on first use;
// concurrent requests for the same server share one startup through
// singleflight instead of racing to spawn duplicate processes.
type Pool struct {
	cfgs map[string]ServerConfig
	log  *log.Logger

	mu      sync.RWMutex
	servers map[string]*ServerClient
	sf      singleflight.Group
}

// NewPool builds a pool over the configured servers.
func NewPool(cfgs []ServerConfig, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	m := make(map[string]ServerConfig, len(cfgs))
	for _, cfg := range cfgs {
		m[cfg.Name] = cfg
	}
	return &Pool{
		cfgs:    m,
		log:     logger,
		servers: make(map[string]*ServerClient),
	}
}

// Server returns the live session for name, starting it if needed.
func (p *Pool) Server(ctx context.Context, name string) (*ServerClient, error) {
	p.mu.RLock()
	c, ok := p.servers[name]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	cfg, ok := p.cfgs[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", name)
	}

	v, err, _ := p.sf.Do(name, func() (any, error) {
		p.mu.RLock()
		existing, ok := p.servers[name]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}
		started, err := StartServer(ctx, cfg, p.log)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.servers[name] = started
		p.mu.Unlock()
		return started, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ServerClient), nil
}

// Prime starts every configured server and registers its tools. Failures are
// logged and skipped so one broken server does not block startup.
func (p *Pool) Prime(ctx context.Context, registry *Registry) {
	for name := range p.cfgs {
		c, err := p.Server(ctx, name)
		if err != nil {
			p.log.Printf("[WARN] tool server %q unavailable: %v", name, err)
			continue
		}
		for _, def := range c.Tools() {
			registry.Register(&serverTool{
				pool:   p,
				server: name,
				name:   def.Function.Name,
			})
		}
	}
}

// ToolDefinitions aggregates the definitions of every live server.
func (p *Pool) ToolDefinitions() []openai.Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var defs []openai.Tool
	for _, c := range p.servers {
		defs = append(defs, c.Tools()...)
	}
	return defs
}

// Close shuts down every live session.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range p.servers {
		if err := c.Close(); err != nil {
			p.log.Printf("[WARN] closing tool server %q: %v", name, err)
		}
		delete(p.servers, name)
	}
}

// serverTool routes one registered tool to its owning server.
type serverTool struct {
	pool   *Pool
	server string
	name   string
}

func (t *serverTool) Name() string { return t.name }

func (t *serverTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	c, err := t.pool.Server(ctx, t.server)
	if err != nil {
		return "", err
	}
	return c.CallTool(ctx, t.name, input)
}
