package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/platform"
)

// stableSamplesBeforeBackoff is how many unchanged samples pass before the
// interval starts to grow.
const stableSamplesBeforeBackoff = 3

// samplerState is owned by the goroutine holding the tick gate.
type samplerState struct {
	lastActive time.Duration // monotonic reading up to which time is accounted
	prevWall   time.Time     // wall clock of the previous sample
	lastSig    string
	stable     int
	interval   time.Duration
	disabled   bool
	lastCredit time.Time
}

func (t *Tracker) resetSampler() {
	t.smu.Lock()
	t.sampler = samplerState{
		lastActive: t.clock.Monotonic(),
		prevWall:   t.clock.Now(),
		interval:   t.initialInterval,
	}
	t.smu.Unlock()
}

// Tune replaces the sampling bounds. The next sample starts again from the
// initial interval.
func (t *Tracker) Tune(initial, ceiling time.Duration) {
	if initial <= 0 {
		return
	}
	if ceiling < initial {
		ceiling = initial
	}
	t.smu.Lock()
	t.initialInterval = initial
	t.maxInterval = ceiling
	t.sampler.interval = initial
	t.sampler.stable = 0
	t.smu.Unlock()
	t.logger.Info("sampling interval set to %s..%s", initial, ceiling)
}

// Interval is the delay before the next sample.
func (t *Tracker) Interval() time.Duration {
	if t.paused.Load() {
		return t.idleInterval
	}
	t.smu.Lock()
	defer t.smu.Unlock()
	if t.sampler.interval <= 0 {
		return t.initialInterval
	}
	return t.sampler.interval
}

// Sample takes one sample: it measures elapsed time since the last one,
// classifies the foreground window and credits the time. Overlapping calls
// are dropped.
func (t *Tracker) Sample(ctx context.Context) error {
	if !t.gate.TryAcquire() {
		t.logger.Debug("sample skipped: previous sample still running")
		return nil
	}
	defer t.gate.Release()
	if t.stopping.Load() || !t.running.Load() {
		return nil
	}
	if t.sampleOnce(ctx) {
		t.publishUpdate()
	}
	return nil
}

// sampleOnce does the work of Sample and reports whether anything changed.
func (t *Tracker) sampleOnce(ctx context.Context) bool {
	t.smu.Lock()
	defer t.smu.Unlock()
	st := &t.sampler
	if st.disabled {
		return false
	}

	now := t.clock.Now()
	mono := t.clock.Monotonic()

	if t.paused.Load() {
		st.lastActive = mono
		st.prevWall = now
		return false
	}

	delta := int64((mono - st.lastActive) / time.Second)
	if delta <= 0 {
		return false
	}
	// Only whole seconds are consumed; the remainder carries over.
	st.lastActive += time.Duration(delta) * time.Second

	// Seconds held before a midnight are settled against the day they
	// were observed in, not released into the next one.
	var carried int64
	if !st.prevWall.IsZero() && platform.LocalDate(st.prevWall, t.loc) != platform.LocalDate(now, t.loc) {
		carried = t.consolidator.ReleaseHeld()
	}
	credit, quiet := t.creditable(ctx, delta)
	if quiet {
		carried = 0
	}

	obs, err := platform.ActiveWindowWithRetry(ctx, t.probe, t.retry)
	if errors.Is(err, core.ErrProbeUnsupported) {
		t.logger.WarnOnce("probe-unsupported", "window probe unsupported on this platform; sampling disabled")
		st.disabled = true
		return false
	}

	credit = t.rollover(st.prevWall, now, credit, carried)
	st.prevWall = now

	if err != nil {
		if !errors.Is(err, core.ErrNoWindow) {
			t.logger.Debug("probe failed: %v", err)
		}
		t.consolidator.Credit(credit, now)
		if credit > 0 {
			st.lastCredit = now
		}
		return credit > 0
	}

	if t.meetings != nil {
		if m, ok := t.meetings.MeetingAt(now); ok && m != nil {
			obs.ScheduledMeeting = m.Subject
		}
	}
	settings := t.settings()
	tables, terr := t.mappings.Tables()
	if terr != nil {
		t.logger.Debug("mapping tables unavailable: %v", terr)
	}
	desc := t.classifier.Classify(obs, tables, settings)

	t.consolidator.Apply(desc, now, credit)
	if credit > 0 {
		st.lastCredit = now
	}
	if settings.FocusTracking {
		t.focus.Observe(desc, now)
	}

	t.adapt(st, desc.Signature())
	return true
}

// creditable splits delta into seconds credited now and seconds held while
// input is quiet. Held seconds are released once input resumes.
func (t *Tracker) creditable(ctx context.Context, delta int64) (int64, bool) {
	idleSecs, err := t.probe.IdleSeconds(ctx)
	if err != nil {
		t.logger.Debug("idle probe failed: %v", err)
		return delta + t.consolidator.ReleaseHeld(), false
	}
	if idleSecs >= t.settings().ActivityThreshold {
		held := delta
		if int64(idleSecs) < held {
			held = int64(idleSecs)
		}
		t.consolidator.Hold(held)
		return delta - held, true
	}
	return delta + t.consolidator.ReleaseHeld(), false
}

// rollover closes the live record at the first midnight between prev and
// now and returns the seconds that belong to the new day. carried are
// seconds held before prev, credited to the closing record. Seconds still
// held after the tick are trimmed to what fits in the new day.
func (t *Tracker) rollover(prev, now time.Time, credit, carried int64) int64 {
	if prev.IsZero() || platform.LocalDate(prev, t.loc) == platform.LocalDate(now, t.loc) {
		return credit
	}

	firstMidnight := platform.NextMidnight(prev, t.loc)
	lastMidnight := platform.StartOfDay(now, t.loc)

	before := int64(firstMidnight.Sub(prev) / time.Second)
	if before > credit {
		before = credit
	}
	if before < 0 {
		before = 0
	}
	t.consolidator.CloseDay(before+carried, firstMidnight)
	t.focus.Flush(firstMidnight)

	after := credit - before
	if firstMidnight.Before(lastMidnight) {
		// Days in between were not observed; only today's share is kept.
		after = int64(now.Sub(lastMidnight) / time.Second)
		if after > credit {
			after = credit
		}
		t.consolidator.DiscardHeld()
	}
	t.consolidator.TrimHeld(int64(now.Sub(lastMidnight) / time.Second))
	t.logger.Info("day rolled over to %s", platform.LocalDate(now, t.loc))
	return after
}

// adapt lengthens the interval while the foreground stays the same.
func (t *Tracker) adapt(st *samplerState, sig string) {
	if sig == st.lastSig {
		st.stable++
	} else {
		st.lastSig = sig
		st.stable = 0
	}
	st.interval = t.initialInterval
	if st.stable > stableSamplesBeforeBackoff {
		st.interval = t.initialInterval + time.Duration(st.stable)*t.initialInterval
		if st.interval > t.maxInterval {
			st.interval = t.maxInterval
		}
	}
}
