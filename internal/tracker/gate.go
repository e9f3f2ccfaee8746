package tracker

import (
	"context"
	"time"
)

// tickGate admits at most one sample at a time. Overlapping ticks use
// TryAcquire and are dropped; the idle detector and Stop wait with a bound.
type tickGate struct {
	ch chan struct{}
}

func newTickGate() *tickGate {
	return &tickGate{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the gate if it is free.
func (g *tickGate) TryAcquire() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire waits up to timeout for the gate.
func (g *tickGate) Acquire(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case g.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release frees the gate.
func (g *tickGate) Release() {
	select {
	case <-g.ch:
	default:
	}
}
