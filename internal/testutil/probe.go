package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// ScriptedProbe returns a fixed window and idle reading until changed.
// Queued errors are returned first, one per ActiveWindow call.
type ScriptedProbe struct {
	mu     sync.Mutex
	window core.Observation
	noWin  bool
	idle   int
	errs   []error
	calls  int
	clock  interface{ Now() time.Time }
}

// NewScriptedProbe creates a probe that reports no window.
func NewScriptedProbe() *ScriptedProbe {
	return &ScriptedProbe{noWin: true}
}

// WithClock stamps observations with the clock's time.
func (p *ScriptedProbe) WithClock(c interface{ Now() time.Time }) *ScriptedProbe {
	p.mu.Lock()
	p.clock = c
	p.mu.Unlock()
	return p
}

// SetWindow sets the foreground window.
func (p *ScriptedProbe) SetWindow(app, title, url string) {
	p.mu.Lock()
	p.window = core.Observation{AppName: app, WindowTitle: title, URL: url}
	p.noWin = false
	p.mu.Unlock()
}

// ClearWindow makes ActiveWindow report core.ErrNoWindow.
func (p *ScriptedProbe) ClearWindow() {
	p.mu.Lock()
	p.noWin = true
	p.mu.Unlock()
}

// SetIdle sets the idle seconds reading.
func (p *ScriptedProbe) SetIdle(seconds int) {
	p.mu.Lock()
	p.idle = seconds
	p.mu.Unlock()
}

// FailNext queues errors for the next ActiveWindow calls.
func (p *ScriptedProbe) FailNext(errs ...error) {
	p.mu.Lock()
	p.errs = append(p.errs, errs...)
	p.mu.Unlock()
}

// Calls returns how many times ActiveWindow was called.
func (p *ScriptedProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// ActiveWindow implements platform.Probe.
func (p *ScriptedProbe) ActiveWindow(ctx context.Context) (core.Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return core.Observation{}, err
	}
	if p.noWin {
		return core.Observation{}, core.ErrNoWindow
	}
	obs := p.window
	if p.clock != nil {
		obs.CapturedAt = p.clock.Now()
	}
	return obs, nil
}

// IdleSeconds implements platform.Probe.
func (p *ScriptedProbe) IdleSeconds(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle, nil
}
