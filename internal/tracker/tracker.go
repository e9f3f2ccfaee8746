// Package tracker is the WorkTrail engine. It samples the foreground window
// on an adaptive schedule, classifies what it sees and attributes elapsed
// time to per-day activity records, pausing while the user is away.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantumlife/worktrail/internal/classifier"
	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/focus"
	"github.com/quantumlife/worktrail/internal/idle"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
	"github.com/quantumlife/worktrail/internal/platform"
	"github.com/quantumlife/worktrail/internal/scheduler"
	"github.com/quantumlife/worktrail/internal/storage"
)

// Scheduled task IDs.
const (
	TaskSample    = "sample"
	TaskIdle      = "idle"
	TaskAutosave  = "autosave"
	TaskRetention = "retention"
)

// SettingsSource supplies the current settings.
type SettingsSource interface {
	Current() core.Settings
}

// MappingRepository reads and edits the mapping tables.
type MappingRepository interface {
	Tables() (core.MappingTables, error)
	Set(kind core.MappingKind, pattern string, value core.MappingValue) error
	Remove(kind core.MappingKind, pattern string) (bool, error)
}

// Pruner removes data older than a cutoff date.
type Pruner interface {
	Prune(cutoff core.Date) (int, error)
}

// Config wires a Tracker. Zero durations take the defaults from
// config.Default.
type Config struct {
	Activities ActivityRepository
	Settings   SettingsSource
	Mappings   MappingRepository
	Focus      focus.Sink

	Probe      platform.Probe
	Clock      platform.Clock
	Classifier *classifier.Classifier
	Publisher  notifications.Publisher
	Meetings   core.MeetingsProvider // optional
	Logger     *logging.Logger

	InitialInterval     time.Duration
	MaxInterval         time.Duration
	IdleInterval        time.Duration
	AutosaveInterval    time.Duration
	StopTimeout         time.Duration
	IdleGateTimeout     time.Duration
	CollaboratorTimeout time.Duration
	RetentionAt         string // "HH:MM", daily
	Retry               platform.RetryConfig
	DedupSize           int

	// ManualTicks leaves sampling and idle checks to the caller instead of
	// the internal scheduler.
	ManualTicks bool
}

// FromStore fills the store-backed fields of cfg.
func (cfg Config) FromStore(s *storage.Store) Config {
	cfg.Activities = s.Activities
	cfg.Settings = s.Settings
	cfg.Mappings = s.Mappings
	cfg.Focus = s.Focus
	return cfg
}

// Tracker is the engine: it owns the sampler, the consolidator, the idle
// detector and the focus tracker, and serves the command surface.
type Tracker struct {
	activities  ActivityRepository
	settingsSrc SettingsSource
	mappings    MappingRepository
	focusSink   focus.Sink

	probe      platform.Probe
	clock      platform.Clock
	loc        *time.Location
	classifier *classifier.Classifier
	publisher  notifications.Publisher
	meetings   core.MeetingsProvider
	logger     *logging.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
	idleInterval    time.Duration
	stopTimeout     time.Duration
	retry           platform.RetryConfig
	manual          bool

	consolidator *Consolidator
	detector     *idle.Detector
	focus        *focus.Tracker
	sched        *scheduler.Scheduler
	gate         *tickGate

	// Sampler state, guarded by smu.
	smu     sync.Mutex
	sampler samplerState

	// Lifecycle
	mu            sync.Mutex
	running       atomic.Bool
	stopping      atomic.Bool
	paused        atomic.Bool
	sessionStart  time.Time
	cancelSignals context.CancelFunc
	signalsDone   chan struct{}
}

// New creates a stopped tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Activities == nil || cfg.Settings == nil || cfg.Mappings == nil {
		return nil, fmt.Errorf("%w: tracker store", core.ErrMissingRequired)
	}
	if cfg.Probe == nil {
		return nil, fmt.Errorf("%w: tracker probe", core.ErrMissingRequired)
	}
	if cfg.Clock == nil {
		cfg.Clock = platform.NewSystemClock(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classifier.New(cfg.Logger)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notifications.NewService()
	}
	setDefault(&cfg.InitialInterval, 5*time.Second)
	setDefault(&cfg.MaxInterval, 60*time.Second)
	setDefault(&cfg.IdleInterval, idle.Interval)
	setDefault(&cfg.AutosaveInterval, 5*time.Minute)
	setDefault(&cfg.StopTimeout, 5*time.Second)
	setDefault(&cfg.IdleGateTimeout, 2*time.Second)
	setDefault(&cfg.CollaboratorTimeout, 30*time.Second)
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = platform.DefaultRetryConfig()
	}
	if cfg.RetentionAt == "" {
		cfg.RetentionAt = "03:30"
	}

	loc := cfg.Clock.Location()
	logger := cfg.Logger.Component("tracker")
	settings := func() core.Settings { return cfg.Settings.Current() }

	cons, err := NewConsolidator(cfg.Activities, settings, loc, cfg.DedupSize, cfg.Logger)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		activities:      cfg.Activities,
		settingsSrc:     cfg.Settings,
		mappings:        cfg.Mappings,
		focusSink:       cfg.Focus,
		probe:           cfg.Probe,
		clock:           cfg.Clock,
		loc:             loc,
		classifier:      cfg.Classifier,
		publisher:       cfg.Publisher,
		meetings:        cfg.Meetings,
		logger:          logger,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		idleInterval:    cfg.IdleInterval,
		stopTimeout:     cfg.StopTimeout,
		retry:           cfg.Retry,
		manual:          cfg.ManualTicks,
		consolidator:    cons,
		focus:           focus.New(cfg.Focus, loc, cfg.Logger),
		gate:            newTickGate(),
	}
	t.detector = idle.New(idle.Config{
		Probe:       cfg.Probe,
		Clock:       cfg.Clock,
		Settings:    settings,
		Gate:        t.gate,
		Publisher:   cfg.Publisher,
		Logger:      cfg.Logger,
		GateTimeout: cfg.IdleGateTimeout,
	})

	if obs, ok := cfg.Mappings.(interface{ OnChange(func(core.MappingKind)) }); ok {
		obs.OnChange(func(core.MappingKind) { t.classifier.Invalidate() })
	}

	t.sched = scheduler.New(scheduler.Config{Location: loc, Logger: cfg.Logger})
	tasks := []*scheduler.Task{
		scheduler.AdaptiveTask(TaskSample, "Sample foreground window", t.Interval, t.Sample),
		scheduler.IntervalTask(TaskIdle, "Check input idleness", cfg.IdleInterval, t.detector.Check),
		scheduler.IntervalTask(TaskAutosave, "Save live activity", cfg.AutosaveInterval, t.autosave),
		scheduler.DailyTask(TaskRetention, "Prune expired data", cfg.RetentionAt, t.RunRetention),
	}
	for _, task := range tasks {
		task.Timeout = cfg.CollaboratorTimeout
		if err := t.sched.Register(task); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d <= 0 {
		*d = v
	}
}

func (t *Tracker) settings() core.Settings {
	return t.settingsSrc.Current()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start begins tracking. Starting a running tracker is a no-op.
func (t *Tracker) Start() (core.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return t.Status(), nil
	}

	t.paused.Store(false)
	t.detector.Reset()
	t.resetSampler()
	t.sessionStart = t.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancelSignals = cancel
	t.signalsDone = make(chan struct{})
	go t.consumeSignals(ctx, t.signalsDone)

	t.running.Store(true)
	if !t.manual {
		if err := t.sched.Start(); err != nil {
			t.running.Store(false)
			cancel()
			return core.Status{}, err
		}
	}

	t.logger.Info("tracking started")
	t.publisher.Publish(notifications.EventTrackingStatusChanged, notifications.TrackingStatusChanged{IsTracking: true})
	return t.Status(), nil
}

// Stop ends tracking, waiting up to the stop timeout for an in-flight
// sample, then saves the live record. Stopping a stopped tracker is a no-op.
func (t *Tracker) Stop() (core.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.Load() {
		return t.Status(), nil
	}
	t.stopping.Store(true)
	defer t.stopping.Store(false)

	if !t.manual && !t.sched.StopWithTimeout(t.stopTimeout) {
		t.logger.Warn("scheduled work still running after %s", t.stopTimeout)
	}
	held := t.gate.Acquire(context.Background(), t.stopTimeout)
	if !held {
		t.logger.Warn("sample still in flight after %s; saving anyway", t.stopTimeout)
	}

	t.running.Store(false)
	t.cancelSignals()
	<-t.signalsDone

	now := t.clock.Now()
	err := t.consolidator.Flush()
	t.focus.Flush(now)
	t.detector.Reset()
	t.paused.Store(false)
	if held {
		t.gate.Release()
	}

	t.logger.Info("tracking stopped")
	t.publisher.Publish(notifications.EventTrackingStatusChanged, notifications.TrackingStatusChanged{IsTracking: false})
	return t.Status(), err
}

// Toggle starts a stopped tracker and stops a running one.
func (t *Tracker) Toggle() (core.Status, error) {
	if t.running.Load() {
		return t.Stop()
	}
	return t.Start()
}

// Running reports whether tracking is on.
func (t *Tracker) Running() bool {
	return t.running.Load()
}

// consumeSignals applies idle transitions. The detector holds the tick
// gate while it waits for the ack, so no sample runs concurrently.
func (t *Tracker) consumeSignals(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-t.detector.Signals():
			t.applySignal(sig)
			sig.Ack()
		}
	}
}

func (t *Tracker) applySignal(sig idle.Signal) {
	switch sig.Kind {
	case idle.SignalIdleStart:
		t.paused.Store(true)
		t.consolidator.MarkIdle(sig.IdleStart)
		t.focus.Flush(sig.IdleStart)
	case idle.SignalIdleReturn:
		t.smu.Lock()
		t.sampler.lastActive = t.clock.Monotonic()
		t.sampler.prevWall = t.clock.Now()
		t.smu.Unlock()
		t.paused.Store(false)
	}
	t.publishUpdate()
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status returns the current snapshot. It is answered while stopped too.
func (t *Tracker) Status() core.Status {
	s := t.settings()
	now := t.clock.Now()
	st := core.Status{
		IsTracking:      t.running.Load(),
		IsPaused:        t.paused.Load(),
		CurrentActivity: t.consolidator.Current(),
		FocusSession:    t.focus.Current(),
		LastIdlePeriod:  t.detector.LastIdlePeriod(),
		WithinWorkDay:   s.WithinWorkDay(now),
	}
	if st.IsTracking {
		start := t.sessionStart
		st.SessionStart = &start
		st.SamplingRateSeconds = int(t.Interval() / time.Second)
		t.smu.Lock()
		if !t.sampler.lastCredit.IsZero() {
			last := t.sampler.lastCredit
			st.LastActive = &last
		}
		t.smu.Unlock()
	}
	return st
}

func (t *Tracker) publishUpdate() {
	t.publisher.Publish(notifications.EventTrackingUpdate, notifications.TrackingUpdate{Status: t.Status()})
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func (t *Tracker) requireRunning() error {
	if !t.running.Load() || t.stopping.Load() {
		return core.ErrTrackerStopped
	}
	return nil
}

// ResolveIdle answers the idle prompt for the last idle period.
func (t *Tracker) ResolveIdle(wasWorking bool) (core.CommandResult, error) {
	if err := t.requireRunning(); err != nil {
		return core.CommandResult{}, err
	}
	period := t.detector.LastIdlePeriod()
	if period == nil {
		return core.CommandResult{OK: false, Reason: core.ErrNothingToDo.Error()}, nil
	}
	_, err := t.consolidator.ResolveIdle(*period, wasWorking)
	if errors.Is(err, core.ErrNothingToDo) {
		t.detector.ClearLastIdlePeriod()
		return core.CommandResult{OK: false, Reason: core.ErrNothingToDo.Error()}, nil
	}
	if err != nil {
		return core.CommandResult{}, err
	}
	t.detector.ClearLastIdlePeriod()
	t.publishUpdate()
	return core.CommandResult{OK: true}, nil
}

// CreateManual records user-entered work.
func (t *Tracker) CreateManual(d core.Descriptor, start, end time.Time) (*core.Activity, error) {
	if err := t.requireRunning(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.App) == "" {
		d.App = "Manual"
	}
	if strings.TrimSpace(d.Project) == "" {
		d.Project = t.settings().DefaultProject
	}
	return t.consolidator.CreateManual(d, start, end)
}

// ConsolidateNow saves the live record and merges adjacent records.
func (t *Tracker) ConsolidateNow() (int, error) {
	if err := t.requireRunning(); err != nil {
		return 0, err
	}
	n, err := t.consolidator.ConsolidateNow()
	if err == nil && n > 0 {
		t.consolidator.Forget()
		t.logger.Info("consolidated %d activities", n)
	}
	return n, err
}

// FindActivityByID returns one record.
func (t *Tracker) FindActivityByID(id string) (*core.Activity, error) {
	if err := t.requireRunning(); err != nil {
		return nil, err
	}
	return t.consolidator.Lookup(id)
}

// ListActivities returns records matching filter, including the live one.
func (t *Tracker) ListActivities(filter core.ActivityFilter) ([]*core.Activity, error) {
	if err := t.requireRunning(); err != nil {
		return nil, err
	}
	return t.consolidator.List(filter)
}

// UpdateActivity applies a patch from the UI.
func (t *Tracker) UpdateActivity(id string, patch core.ActivityPatch) (*core.Activity, error) {
	if err := t.requireRunning(); err != nil {
		return nil, err
	}
	return t.consolidator.Update(id, patch)
}

// DeleteActivity removes a record.
func (t *Tracker) DeleteActivity(id string) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	return t.consolidator.Delete(id)
}

// SetMapping adds or replaces a mapping entry.
func (t *Tracker) SetMapping(kind core.MappingKind, pattern string, value core.MappingValue) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	if err := t.mappings.Set(kind, pattern, value); err != nil {
		return err
	}
	t.classifier.Invalidate()
	return nil
}

// RemoveMapping deletes a mapping entry.
func (t *Tracker) RemoveMapping(kind core.MappingKind, pattern string) (core.CommandResult, error) {
	if err := t.requireRunning(); err != nil {
		return core.CommandResult{}, err
	}
	removed, err := t.mappings.Remove(kind, pattern)
	if err != nil {
		return core.CommandResult{}, err
	}
	if !removed {
		return core.CommandResult{OK: false, Reason: core.ErrNothingToDo.Error()}, nil
	}
	t.classifier.Invalidate()
	return core.CommandResult{OK: true}, nil
}

// -----------------------------------------------------------------------------
// Enrichment from the browser helper
// -----------------------------------------------------------------------------

// EnrichBrowser folds a browser tab report into the live record.
func (t *Tracker) EnrichBrowser(evt core.BrowserEvent) bool {
	if !t.running.Load() {
		return false
	}
	tickets, tags := classifier.ExtractTickets(evt.Title)
	project := t.projectFor(evt.URL, evt.Title, tickets)
	return t.consolidator.Enrich(tickets, tags, project, evt.URL)
}

// EnrichPageContext folds structured page data into the live record.
func (t *Tracker) EnrichPageContext(pc core.PageContext) bool {
	if !t.running.Load() {
		return false
	}
	var tickets, tags []string
	title := ""
	switch pc.Type {
	case core.PageJira:
		if pc.Jira != nil && pc.Jira.IssueKey != "" {
			tickets = append(tickets, strings.ToUpper(pc.Jira.IssueKey))
			title = pc.Jira.IssueKey + " " + pc.Jira.Summary
		}
		tags = append(tags, "jira")
	case core.PageGitHub:
		if pc.GitHub != nil && pc.GitHub.Number > 0 {
			tickets = append(tickets, fmt.Sprintf("#%d", pc.GitHub.Number))
		}
		tags = append(tags, "github")
	default:
		return false
	}
	project := t.projectFor(pc.URL, title, tickets)
	return t.consolidator.Enrich(tickets, tags, project, pc.URL)
}

func (t *Tracker) projectFor(url, title string, tickets []string) *core.MappingValue {
	tables, err := t.mappings.Tables()
	if err != nil {
		t.logger.Debug("mapping tables unavailable: %v", err)
		return nil
	}
	if title == "" && len(tickets) > 0 {
		title = strings.Join(tickets, " ")
	}
	v, ok := t.classifier.ProjectFor(url, title, "", tables)
	if !ok {
		return nil
	}
	return &v
}

// -----------------------------------------------------------------------------
// Housekeeping
// -----------------------------------------------------------------------------

func (t *Tracker) autosave(ctx context.Context) error {
	return t.consolidator.Autosave()
}

// RunRetention prunes activities and focus sessions past their retention.
func (t *Tracker) RunRetention(ctx context.Context) error {
	s := t.settings()
	today := t.clock.Now().In(t.loc)

	if p, ok := t.activities.(Pruner); ok {
		cutoff := platform.LocalDate(today.AddDate(0, 0, -s.DataRetentionDays), t.loc)
		n, err := p.Prune(cutoff)
		if err != nil {
			return fmt.Errorf("prune activities: %w", err)
		}
		if n > 0 {
			t.consolidator.Forget()
			t.logger.Info("pruned %d activities before %s", n, cutoff)
		}
	}

	if p, ok := t.focusSink.(Pruner); ok {
		focusCutoff := platform.LocalDate(today.AddDate(0, 0, -s.FocusRetentionDays), t.loc)
		if n, err := p.Prune(focusCutoff); err != nil {
			return fmt.Errorf("prune focus sessions: %w", err)
		} else if n > 0 {
			t.logger.Info("pruned %d focus sessions before %s", n, focusCutoff)
		}
	}
	return nil
}

// Scheduler exposes task stats for the status surface.
func (t *Tracker) Scheduler() *scheduler.Scheduler {
	return t.sched
}

// Detector exposes the idle detector for manual ticking.
func (t *Tracker) Detector() *idle.Detector {
	return t.detector
}
