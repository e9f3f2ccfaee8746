//go:build !linux && !darwin

package platform

import (
	"context"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// CommandProbe is unavailable on this platform.
type CommandProbe struct{}

// NewCommandProbe returns a probe that reports core.ErrProbeUnsupported.
func NewCommandProbe(timeout time.Duration) *CommandProbe {
	return &CommandProbe{}
}

// ActiveWindow implements Probe.
func (p *CommandProbe) ActiveWindow(ctx context.Context) (core.Observation, error) {
	return core.Observation{}, core.ErrProbeUnsupported
}

// IdleSeconds implements Probe.
func (p *CommandProbe) IdleSeconds(ctx context.Context) (int, error) {
	return 0, core.ErrProbeUnsupported
}
