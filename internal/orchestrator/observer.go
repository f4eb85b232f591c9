package orchestrator

import (
	"time"

	"github.com/relaywing/relaywing/internal/bridge"
)

// Observer receives loop activity for metrics and event fan-out.
type Observer interface {
	BackendCall(backendName string, duration time.Duration, err error)
	ToolExecuted(name string, duration time.Duration, err error)
	InjectionsApplied(injections []bridge.Injection)
	RecoveryAttempt(success bool)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) BackendCall(string, time.Duration, error)  {}
func (NopObserver) ToolExecuted(string, time.Duration, error) {}
func (NopObserver) InjectionsApplied([]bridge.Injection)      {}
func (NopObserver) RecoveryAttempt(bool)                      {}

// MultiObserver fans out to several observers.
type MultiObserver []Observer

func (m MultiObserver) BackendCall(name string, d time.Duration, err error) {
	for _, o := range m {
		o.BackendCall(name, d, err)
	}
}

func (m MultiObserver) ToolExecuted(name string, d time.Duration, err error) {
	for _, o := range m {
		o.ToolExecuted(name, d, err)
	}
}

func (m MultiObserver) InjectionsApplied(injections []bridge.Injection) {
	for _, o := range m {
		o.InjectionsApplied(injections)
	}
}

func (m MultiObserver) RecoveryAttempt(success bool) {
	for _, o := range m {
		o.RecoveryAttempt(success)
	}
}
