// Package focus derives focus sessions from the classified descriptor
// stream and scores them by length and distractions.
package focus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/platform"
)

// MinSessionSeconds is the shortest session that is persisted.
const MinSessionSeconds = 300

// DistractionApps are matched case-insensitively as substrings of the app.
var DistractionApps = []string{"slack", "discord", "teams", "whatsapp", "telegram", "facebook", "twitter"}

// Sink persists closed sessions.
type Sink interface {
	Append(session core.FocusSession) error
}

type session struct {
	id           string
	start        time.Time
	project      string
	distractions int
	duration     int64
}

// Tracker maintains the single open focus session.
type Tracker struct {
	sink   Sink
	loc    *time.Location
	logger *logging.Logger

	mu   sync.Mutex
	open *session
}

// New creates a tracker writing closed sessions to sink.
func New(sink Sink, loc *time.Location, logger *logging.Logger) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{sink: sink, loc: loc, logger: logger.Component("focus")}
}

// IsDistraction reports whether app is a known distraction.
func IsDistraction(app string) bool {
	lower := strings.ToLower(app)
	for _, name := range DistractionApps {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// Quality scores a session: 100, minus 10 per distraction, plus 10 for
// sessions over an hour, clamped to [0, 110].
func Quality(distractions int, duration int64) int {
	q := 100 - 10*distractions
	if duration > 3600 {
		q += 10
	}
	if q < 0 {
		return 0
	}
	if q > 110 {
		return 110
	}
	return q
}

// Observe feeds one classified descriptor observed at now.
func (t *Tracker) Observe(d core.Descriptor, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		t.open = newSession(d.Project, now)
		return
	}

	s := t.open
	switch {
	case d.Project == s.project:
		s.duration = elapsed(s.start, now)
	case IsDistraction(d.App):
		// Every sample spent in a distraction app counts.
		s.distractions++
		s.duration = elapsed(s.start, now)
	default:
		s.duration = elapsed(s.start, now)
		t.closeLocked()
		t.open = newSession(d.Project, now)
	}
}

// Flush closes the open session at now, saving it if long enough.
func (t *Tracker) Flush(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return
	}
	t.open.duration = elapsed(t.open.start, now)
	t.closeLocked()
}

// Reset drops the open session without saving it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.open = nil
	t.mu.Unlock()
}

// Current returns a snapshot of the open session, or nil.
func (t *Tracker) Current() *core.FocusSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return nil
	}
	fs := t.snapshot(t.open)
	return &fs
}

func (t *Tracker) snapshot(s *session) core.FocusSession {
	return core.FocusSession{
		ID:           s.id,
		Date:         platform.LocalDate(s.start, t.loc),
		Project:      s.project,
		Start:        s.start,
		Duration:     s.duration,
		Distractions: s.distractions,
		Quality:      Quality(s.distractions, s.duration),
	}
}

func (t *Tracker) closeLocked() {
	s := t.open
	t.open = nil
	if s == nil || s.duration < MinSessionSeconds || t.sink == nil {
		return
	}
	if err := t.sink.Append(t.snapshot(s)); err != nil {
		t.logger.Warn("failed to save focus session: %v", err)
	}
}

func newSession(project string, now time.Time) *session {
	return &session{id: uuid.New().String(), start: now, project: project}
}

func elapsed(start, now time.Time) int64 {
	d := int64(now.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
