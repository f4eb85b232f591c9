package events

import (
	"fmt"
	"time"
)

// Config captures event hook settings exposed via files/env.
type Config struct {
	Enabled    bool              `json:"enabled"`
	ScriptPath string            `json:"script_path"`
	ScriptArgs []string          `json:"script_args"`
	Env        map[string]string `json:"env"`
	Timeout    time.Duration     `json:"timeout"`
}

// Validate ensures the configuration is coherent before we wire handlers.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ScriptPath == "" {
		return fmt.Errorf("events: script_path required when enabled")
	}
	return nil
}

// BuildScriptHandler constructs the handler declared in Config.
func (c Config) BuildScriptHandler() Handler {
	if !c.Enabled {
		return nil
	}
	cfg := ScriptConfig{
		Command: c.ScriptPath,
		Args:    c.ScriptArgs,
		Env:     c.Env,
		Timeout: c.Timeout,
	}
	return NewScriptHandler(cfg)
}
