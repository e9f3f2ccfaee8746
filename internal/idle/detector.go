// Package idle watches OS input idleness and tells the tracker when the
// user has gone away and when they are back.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
	"github.com/quantumlife/worktrail/internal/platform"
)

// Interval is the detector's check cadence.
const Interval = 10 * time.Second

// State of the idle machine.
type State string

const (
	StateActive State = "active"
	StateWarned State = "warned"
	StatePaused State = "paused"
)

// SignalKind discriminates Signal.
type SignalKind int

const (
	SignalIdleStart SignalKind = iota + 1
	SignalIdleReturn
)

// Signal is sent to the tracker on entering and leaving the paused state.
// The consumer closes Done once it has applied the signal.
type Signal struct {
	Kind      SignalKind
	IdleStart time.Time
	Period    *core.IdlePeriod // set on SignalIdleReturn
	Done      chan struct{}
}

// Ack marks the signal handled.
func (s Signal) Ack() {
	if s.Done != nil {
		close(s.Done)
	}
}

// Gate is the sampler's tick gate. The detector holds it while a pause is
// applied so it never races an in-flight sample.
type Gate interface {
	Acquire(ctx context.Context, timeout time.Duration) bool
	Release()
}

// Config wires a Detector.
type Config struct {
	Probe       platform.Probe
	Clock       platform.Clock
	Settings    func() core.Settings
	Gate        Gate
	Publisher   notifications.Publisher
	Logger      *logging.Logger
	GateTimeout time.Duration // default 2s
}

// Detector is the idle state machine.
type Detector struct {
	probe       platform.Probe
	clock       platform.Clock
	settings    func() core.Settings
	gate        Gate
	publisher   notifications.Publisher
	logger      *logging.Logger
	gateTimeout time.Duration
	signals     chan Signal

	mu         sync.Mutex
	state      State
	idleStart  time.Time
	lastPeriod *core.IdlePeriod
}

// New creates a detector in the active state.
func New(cfg Config) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.GateTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	settings := cfg.Settings
	if settings == nil {
		settings = core.DefaultSettings
	}
	return &Detector{
		probe:       cfg.Probe,
		clock:       cfg.Clock,
		settings:    settings,
		gate:        cfg.Gate,
		publisher:   cfg.Publisher,
		logger:      logger.Component("idle"),
		gateTimeout: timeout,
		signals:     make(chan Signal, 4),
		state:       StateActive,
	}
}

// Signals returns the channel the tracker consumes.
func (d *Detector) Signals() <-chan Signal {
	return d.signals
}

// State returns the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastIdlePeriod returns the most recent completed idle period.
func (d *Detector) LastIdlePeriod() *core.IdlePeriod {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastPeriod == nil {
		return nil
	}
	p := *d.lastPeriod
	return &p
}

// ClearLastIdlePeriod forgets the last period once it has been resolved.
func (d *Detector) ClearLastIdlePeriod() {
	d.mu.Lock()
	d.lastPeriod = nil
	d.mu.Unlock()
}

// Reset returns to the active state without emitting anything. Used when
// tracking stops.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.state = StateActive
	d.idleStart = time.Time{}
	d.mu.Unlock()
}

// Check samples OS idleness once and applies any transition. It is the
// body of the detector's scheduled task.
func (d *Detector) Check(ctx context.Context) error {
	secs, err := d.probe.IdleSeconds(ctx)
	if err != nil {
		d.logger.Debug("idle probe failed: %v", err)
		return err
	}
	s := d.settings()
	now := d.clock.Now()

	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	switch {
	case secs < s.ActivityThreshold:
		switch state {
		case StatePaused:
			d.returnFromIdle(ctx, now, s)
		case StateWarned:
			d.setState(StateActive)
		}

	case secs >= s.IdleThreshold:
		if state != StatePaused {
			d.enterPaused(ctx, now.Add(-time.Duration(secs)*time.Second))
		}

	case secs >= s.IdleThreshold-s.IdleWarning:
		if state == StateActive {
			d.setState(StateWarned)
			d.publish(notifications.EventIdleWarning, notifications.IdleWarning{SecondsUntilIdle: s.IdleWarning})
		}
	}
	return nil
}

func (d *Detector) setState(st State) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
}

func (d *Detector) enterPaused(ctx context.Context, idleStart time.Time) {
	if d.gate != nil {
		if d.gate.Acquire(ctx, d.gateTimeout) {
			defer d.gate.Release()
		} else {
			d.logger.Warn("sample still in flight after %s; pausing anyway", d.gateTimeout)
		}
	}

	d.mu.Lock()
	d.state = StatePaused
	d.idleStart = idleStart
	d.mu.Unlock()

	d.send(ctx, Signal{Kind: SignalIdleStart, IdleStart: idleStart})
	d.publish(notifications.EventTrackingPaused, notifications.TrackingPaused{
		Reason:        notifications.PauseIdle,
		IdleStartTime: idleStart,
	})
	d.logger.Info("idle since %s, tracking paused", idleStart.Format(time.TimeOnly))
}

func (d *Detector) returnFromIdle(ctx context.Context, now time.Time, s core.Settings) {
	d.mu.Lock()
	start := d.idleStart
	dur := int64(now.Sub(start) / time.Second)
	if dur < 0 {
		dur = 0
	}
	period := core.IdlePeriod{Start: start, End: now, Duration: dur}
	d.lastPeriod = &period
	d.state = StateActive
	d.idleStart = time.Time{}
	d.mu.Unlock()

	p := period
	d.send(ctx, Signal{Kind: SignalIdleReturn, IdleStart: start, Period: &p})
	if dur/60 > int64(s.MinIdleMinutesForPrompt) {
		d.publish(notifications.EventIdleReturn, notifications.IdleReturn{IdlePeriod: period})
	}
	d.logger.Info("back after %ds idle", dur)
}

// send delivers a signal and waits, bounded by the gate timeout, for the
// consumer to apply it.
func (d *Detector) send(ctx context.Context, sig Signal) {
	sig.Done = make(chan struct{})
	timer := time.NewTimer(d.gateTimeout)
	defer timer.Stop()

	select {
	case d.signals <- sig:
	case <-ctx.Done():
		return
	case <-timer.C:
		d.logger.Warn("idle signal dropped: consumer not reading")
		return
	}
	select {
	case <-sig.Done:
	case <-ctx.Done():
	case <-timer.C:
		d.logger.Warn("idle signal not acknowledged within %s", d.gateTimeout)
	}
}

func (d *Detector) publish(t notifications.EventType, payload any) {
	if d.publisher != nil {
		d.publisher.Publish(t, payload)
	}
}
