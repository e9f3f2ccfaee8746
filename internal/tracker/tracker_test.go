package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
	"github.com/quantumlife/worktrail/internal/platform"
	"github.com/quantumlife/worktrail/internal/storage"
	"github.com/quantumlife/worktrail/internal/testutil"
)

type fixture struct {
	tr     *Tracker
	store  *storage.Store
	probe  *testutil.ScriptedProbe
	clock  *testutil.FakeClock
	events *notifications.ChannelSubscriber
	ctx    context.Context
}

func newFixture(t *testing.T, start time.Time, mutate func(*core.Settings)) *fixture {
	t.Helper()
	s := core.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	f := &fixture{
		store: testutil.TestStoreWithSettings(t, s),
		probe: testutil.NewScriptedProbe(),
		clock: testutil.NewFakeClock(start),
		ctx:   testutil.TestContext(t),
	}
	f.probe.WithClock(f.clock)

	notif := notifications.NewService()
	f.events = notifications.NewChannelSubscriber("test", 1024)
	notif.Subscribe(f.events)

	tr, err := New(Config{
		Probe:           f.probe,
		Clock:           f.clock,
		Publisher:       notif,
		Logger:          logging.Discard(),
		IdleGateTimeout: time.Second,
		StopTimeout:     time.Second,
		Retry:           platform.RetryConfig{Attempts: 3},
		ManualTicks:     true,
	}.FromStore(f.store))
	require.NoError(t, err)
	f.tr = tr
	t.Cleanup(func() { tr.Stop() })
	return f
}

// samples runs n samples spaced by step, the first one without advancing.
func (f *fixture) samples(t *testing.T, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		if i > 0 {
			f.clock.Advance(step)
		}
		require.NoError(t, f.tr.Sample(f.ctx))
	}
}

func (f *fixture) step(t *testing.T, d time.Duration) {
	t.Helper()
	f.clock.Advance(d)
	require.NoError(t, f.tr.Sample(f.ctx))
}

func (f *fixture) checkIdle(t *testing.T, secs int) {
	t.Helper()
	f.probe.SetIdle(secs)
	require.NoError(t, f.tr.Detector().Check(f.ctx))
}

func (f *fixture) stored(t *testing.T, filter core.ActivityFilter) []*core.Activity {
	t.Helper()
	list, err := f.store.Activities.List(filter)
	require.NoError(t, err)
	return list
}

func drain(sub *notifications.ChannelSubscriber) []notifications.Event {
	var out []notifications.Event
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestTracker_SteadyEditorSession(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	_, err := f.tr.Start()
	require.NoError(t, err)

	f.samples(t, 12, 5*time.Second)

	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, "demo", cur.Project)
	assert.Equal(t, int64(55), cur.Duration)
	assert.Equal(t, []string{"development"}, cur.Tags)
	assert.Equal(t, monday, cur.StartTime)

	// Below the minimum duration nothing reaches the store.
	_, err = f.tr.Stop()
	require.NoError(t, err)
	assert.Empty(t, f.stored(t, core.ActivityFilter{}))
}

func TestTracker_SteadySessionIsPersistedOnStop(t *testing.T) {
	f := newFixture(t, monday, func(s *core.Settings) { s.MinActivityDuration = 30 })
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 12, 5*time.Second)
	f.tr.Stop()

	list := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, list, 1)
	assert.Equal(t, "Code", list[0].App)
	assert.Equal(t, "demo", list[0].Project)
	assert.Equal(t, int64(55), list[0].Duration)
}

func TestTracker_BrowserTabChangeKeepsDailyRecord(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Google Chrome", "Page A", "https://a.example/")
	f.tr.Start()
	f.samples(t, 13, 5*time.Second)

	f.probe.SetWindow("Google Chrome", "Page B", "https://b.example/")
	f.step(t, 5*time.Second)

	// The URL change saves the tab's time; the day's record continues.
	saved := f.stored(t, core.ActivityFilter{})
	require.Len(t, saved, 1)
	assert.Equal(t, "Page A", saved[0].Title)
	assert.Equal(t, int64(60), saved[0].Duration)

	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, saved[0].ID, cur.ID)
	assert.Equal(t, "Page B", cur.Title)
	assert.Equal(t, "https://b.example/", cur.URL)
	assert.Equal(t, int64(65), cur.Duration)
}

func TestTracker_MidnightRollover(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 23, 58, 0, 0, time.UTC), nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 1, 0)
	f.step(t, 60*time.Second)  // 23:59:00
	f.step(t, 100*time.Second) // 00:00:40

	closed := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, closed, 1)
	assert.Equal(t, int64(120), closed[0].Duration)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), closed[0].EndTime)

	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, core.Date("2026-03-03"), cur.Date)
	assert.Equal(t, int64(40), cur.Duration)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), cur.StartTime)
	assert.NotEqual(t, closed[0].ID, cur.ID)
}

func TestTracker_HeldSecondsStayOnTheirDay(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 23, 58, 0, 0, time.UTC), nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 1, 0)
	f.step(t, 60*time.Second) // 23:59:00
	f.probe.SetIdle(30)
	f.step(t, 30*time.Second) // 23:59:30, 30s held
	f.probe.SetIdle(0)
	f.step(t, 50*time.Second) // 00:00:20

	closed := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, closed, 1)
	assert.Equal(t, int64(120), closed[0].Duration)

	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, core.Date("2026-03-03"), cur.Date)
	assert.Equal(t, int64(20), cur.Duration)
}

func TestTracker_QuietAcrossMidnightIsTrimmed(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 23, 58, 0, 0, time.UTC), nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 1, 0)
	f.step(t, 60*time.Second) // 23:59:00
	f.probe.SetIdle(30)
	f.step(t, 30*time.Second) // 23:59:30
	f.probe.SetIdle(80)
	f.step(t, 50*time.Second) // 00:00:20, still quiet

	closed := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, closed, 1)
	assert.Equal(t, int64(60), closed[0].Duration, "quiet seconds before midnight are not credited")
	assert.Equal(t, int64(20), f.tr.consolidator.Held(), "only the new day's quiet seconds stay held")

	f.probe.SetIdle(0)
	f.step(t, 5*time.Second)
	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, core.Date("2026-03-03"), cur.Date)
	assert.Equal(t, int64(25), cur.Duration)
}

func TestTracker_MultiDayGap(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 13, 55, 0, 0, time.UTC), nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 1, 0)
	f.step(t, 5*time.Minute) // Monday 14:00
	f.clock.Set(time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC))
	require.NoError(t, f.tr.Sample(f.ctx))

	mon := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, mon, 1)
	assert.Equal(t, int64(300+10*3600), mon[0].Duration)

	assert.Empty(t, f.stored(t, core.ActivityFilter{Date: "2026-03-03"}), "nothing is invented for Tuesday")

	cur := f.tr.Status().CurrentActivity
	require.NotNil(t, cur)
	assert.Equal(t, core.Date("2026-03-04"), cur.Date)
	assert.Equal(t, int64(9*3600+1800), cur.Duration)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), cur.StartTime)
}

func TestTracker_IdleExcludedFromRecord(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 121, 5*time.Second) // ten minutes
	require.Equal(t, int64(600), f.tr.Status().CurrentActivity.Duration)
	idleStart := f.clock.Now()

	f.clock.Advance(3 * time.Minute)
	f.checkIdle(t, 180)
	st := f.tr.Status()
	assert.True(t, st.IsPaused)
	assert.Nil(t, st.CurrentActivity)

	// Samples while paused credit nothing.
	f.step(t, 5*time.Minute)
	f.clock.Advance(12 * time.Minute)
	f.checkIdle(t, 0)
	assert.False(t, f.tr.Status().IsPaused)

	period := f.tr.Status().LastIdlePeriod
	require.NotNil(t, period)
	assert.Equal(t, idleStart, period.Start)
	assert.Equal(t, int64(1200), period.Duration)

	res, err := f.tr.ResolveIdle(false)
	require.NoError(t, err)
	assert.True(t, res.OK)

	list := f.stored(t, core.ActivityFilter{})
	require.Len(t, list, 1)
	a := list[0]
	assert.Equal(t, int64(600), a.Duration)
	assert.Equal(t, int64(600), a.ActualDuration)
	require.Len(t, a.IdlePeriods, 1)
	assert.True(t, a.IdlePeriods[0].Excluded)
	assert.Equal(t, int64(1200), a.IdlePeriods[0].Duration)

	// The period is consumed.
	res, err = f.tr.ResolveIdle(false)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestTracker_IdleCountedAsWork(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 121, 5*time.Second)
	f.clock.Advance(3 * time.Minute)
	f.checkIdle(t, 180)
	f.clock.Advance(17 * time.Minute)
	f.checkIdle(t, 0)

	res, err := f.tr.ResolveIdle(true)
	require.NoError(t, err)
	require.True(t, res.OK)

	list := f.stored(t, core.ActivityFilter{})
	require.Len(t, list, 1)
	assert.Equal(t, int64(1800), list[0].Duration)
	assert.Equal(t, int64(1800), list[0].ActualDuration)
	assert.False(t, list[0].IdlePeriods[0].Excluded)
}

func TestTracker_QuietSecondsAreHeldThenReleased(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()
	f.samples(t, 3, 5*time.Second)
	require.Equal(t, int64(10), f.tr.Status().CurrentActivity.Duration)

	f.probe.SetIdle(8)
	f.step(t, 5*time.Second)
	assert.Equal(t, int64(10), f.tr.Status().CurrentActivity.Duration, "quiet seconds are held")

	f.probe.SetIdle(0)
	f.step(t, 5*time.Second)
	assert.Equal(t, int64(20), f.tr.Status().CurrentActivity.Duration, "held seconds are released on input")
}

func TestTracker_HeldSecondsDiscardedOnPause(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()
	f.samples(t, 25, 5*time.Second) // 120s

	f.probe.SetIdle(60)
	f.step(t, 60*time.Second)
	f.checkIdle(t, 180)

	list := f.stored(t, core.ActivityFilter{})
	require.Len(t, list, 1)
	assert.Equal(t, int64(120), list[0].Duration)
}

func TestTracker_NoWindowCreditsCurrentRecord(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()
	f.samples(t, 2, 5*time.Second)

	f.probe.ClearWindow()
	f.step(t, 5*time.Second)
	assert.Equal(t, int64(10), f.tr.Status().CurrentActivity.Duration)

	f.probe.FailNext(core.ErrProbeTransient, core.ErrProbeTransient)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.step(t, 5*time.Second)
	assert.Equal(t, int64(15), f.tr.Status().CurrentActivity.Duration)
}

func TestTracker_DailyKeysStayUniqueAndTimeIsConserved(t *testing.T) {
	f := newFixture(t, monday, func(s *core.Settings) { s.MinActivityDuration = 0 })
	f.tr.Start()

	windows := [][2]string{
		{"Code", "a.go - alpha - Editor"},
		{"Code", "b.go - beta - Editor"},
		{"Slack", "general"},
		{"Code", "a.go - alpha - Editor"},
		{"Code", "c.go - alpha - Editor"},
		{"Slack", "random"},
		{"Code", "b.go - beta - Editor"},
	}
	f.probe.SetWindow(windows[0][0], windows[0][1], "")
	require.NoError(t, f.tr.Sample(f.ctx))

	steps := 0
	for round := 0; round < 4; round++ {
		for _, w := range windows {
			f.probe.SetWindow(w[0], w[1], "")
			for i := 0; i < 3; i++ {
				f.step(t, 7*time.Second)
				steps++
			}
		}
	}
	f.tr.Stop()

	list := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	seen := make(map[core.ActivityKey]bool)
	total := int64(0)
	for _, a := range list {
		assert.False(t, seen[a.Key()], "duplicate key %v", a.Key())
		seen[a.Key()] = true
		total += a.Duration
		assert.LessOrEqual(t, a.ActualDuration, a.Duration)
	}
	assert.Len(t, list, 3)
	assert.Equal(t, int64(steps*7), total)
}

func TestTracker_AdaptiveInterval(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 2, 5*time.Second)
	assert.Equal(t, 5*time.Second, f.tr.Interval())
	for i := 0; i < 3; i++ {
		f.step(t, 5*time.Second)
	}
	assert.Equal(t, 5*time.Second, f.tr.Interval(), "three unchanged samples keep the base rate")
	f.step(t, 5*time.Second)
	assert.Equal(t, 25*time.Second, f.tr.Interval())

	for i := 0; i < 20; i++ {
		f.step(t, 5*time.Second)
	}
	assert.Equal(t, 60*time.Second, f.tr.Interval())

	f.probe.SetWindow("Slack", "general", "")
	f.step(t, 5*time.Second)
	assert.Equal(t, 5*time.Second, f.tr.Interval())
}

func TestTracker_TuneResetsInterval(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	f.samples(t, 8, 5*time.Second)
	require.Greater(t, f.tr.Interval(), 5*time.Second)

	f.tr.Tune(2*time.Second, 10*time.Second)
	assert.Equal(t, 2*time.Second, f.tr.Interval())

	for i := 0; i < 4; i++ {
		f.step(t, 2*time.Second)
	}
	assert.Equal(t, 10*time.Second, f.tr.Interval())
}

func TestTracker_CommandsRejectedWhileStopped(t *testing.T) {
	f := newFixture(t, monday, nil)

	_, err := f.tr.ResolveIdle(true)
	assert.ErrorIs(t, err, core.ErrTrackerStopped)
	_, err = f.tr.ListActivities(core.ActivityFilter{})
	assert.ErrorIs(t, err, core.ErrTrackerStopped)
	assert.ErrorIs(t, f.tr.SetMapping(core.MappingProject, "x", core.MappingValue{Project: "X"}), core.ErrTrackerStopped)

	st, err := f.tr.Toggle()
	require.NoError(t, err)
	assert.True(t, st.IsTracking)
	_, err = f.tr.ListActivities(core.ActivityFilter{})
	assert.NoError(t, err)

	st, err = f.tr.Toggle()
	require.NoError(t, err)
	assert.False(t, st.IsTracking)
	_, err = f.tr.ConsolidateNow()
	assert.ErrorIs(t, err, core.ErrTrackerStopped)
	assert.NoError(t, f.tr.Sample(f.ctx), "a stray tick after stop is ignored")
}

func TestTracker_StartAndStopAreIdempotent(t *testing.T) {
	f := newFixture(t, monday, nil)
	_, err := f.tr.Start()
	require.NoError(t, err)
	_, err = f.tr.Start()
	require.NoError(t, err)
	_, err = f.tr.Stop()
	require.NoError(t, err)
	_, err = f.tr.Stop()
	require.NoError(t, err)

	var changes []bool
	for _, e := range drain(f.events) {
		if p, ok := e.Payload.(notifications.TrackingStatusChanged); ok {
			changes = append(changes, p.IsTracking)
		}
	}
	assert.Equal(t, []bool{true, false}, changes)
}

func TestTracker_MappingChangeReclassifies(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Terminal", "zsh", "")
	f.tr.Start()
	f.samples(t, 2, 5*time.Second)
	assert.Equal(t, "General", f.tr.Status().CurrentActivity.Project)

	require.NoError(t, f.tr.SetMapping(core.MappingProject, "^terminal$", core.MappingValue{Project: "Ops"}))
	f.step(t, 5*time.Second)
	assert.Equal(t, "Ops", f.tr.Status().CurrentActivity.Project)

	res, err := f.tr.RemoveMapping(core.MappingProject, "^terminal$")
	require.NoError(t, err)
	assert.True(t, res.OK)
	res, err = f.tr.RemoveMapping(core.MappingProject, "^terminal$")
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestTracker_BrowserEnrichment(t *testing.T) {
	f := newFixture(t, monday, nil)
	require.NoError(t, f.store.Mappings.Set(core.MappingURL, "jira.acme.io", core.MappingValue{Project: "Acme"}))

	f.probe.SetWindow("Google Chrome", "Board", "")
	f.tr.Start()
	f.samples(t, 2, 5*time.Second)
	require.Equal(t, "General", f.tr.Status().CurrentActivity.Project)

	ok := f.tr.EnrichBrowser(core.BrowserEvent{URL: "https://jira.acme.io/browse/ABC-12", Title: "ABC-12 Fix login"})
	assert.True(t, ok)
	cur := f.tr.Status().CurrentActivity
	assert.Equal(t, "Acme", cur.Project)
	assert.Contains(t, cur.Tickets, "ABC-12")
	assert.Equal(t, int64(5), cur.Duration, "enrichment never adds time")

	ok = f.tr.EnrichPageContext(core.PageContext{
		URL:    "https://github.com/acme/app/pull/7",
		Type:   core.PageGitHub,
		GitHub: &core.GitHubContext{Owner: "acme", Repo: "app", Type: "pull", Number: 7},
	})
	assert.True(t, ok)
	cur = f.tr.Status().CurrentActivity
	assert.Contains(t, cur.Tickets, "#7")
	assert.Contains(t, cur.Tags, "github")
	assert.Equal(t, "Acme", cur.Project)
}

func TestTracker_ManualEntryAndCRUD(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.tr.Start()

	a, err := f.tr.CreateManual(core.Descriptor{Title: "Planning"}, monday.Add(-2*time.Hour), monday.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Manual", a.App)
	assert.Equal(t, "General", a.Project)

	got, err := f.tr.FindActivityByID(a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsManual)

	project := "Roadmap"
	updated, err := f.tr.UpdateActivity(a.ID, core.ActivityPatch{Project: &project})
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", updated.Project)

	require.NoError(t, f.tr.DeleteActivity(a.ID))
	_, err = f.tr.FindActivityByID(a.ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestTracker_ManualEntrySharesDailyKeyWithTracking(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()

	manual, err := f.tr.CreateManual(core.Descriptor{App: "Code", Project: "demo"}, monday.Add(-2*time.Hour), monday.Add(-time.Hour))
	require.NoError(t, err)

	f.samples(t, 30, 5*time.Second)
	f.tr.Stop()

	list := f.stored(t, core.ActivityFilter{Date: "2026-03-02"})
	require.Len(t, list, 1, "one record per (app, project, date)")
	assert.Equal(t, manual.ID, list[0].ID)
	assert.Equal(t, int64(3600+145), list[0].Duration)
	assert.True(t, list[0].IsManual)
}

func TestTracker_RetentionPrunesOldData(t *testing.T) {
	f := newFixture(t, monday, func(s *core.Settings) {
		s.DataRetentionDays = 30
		s.FocusRetentionDays = 7
	})

	old := &core.Activity{ID: "old", App: "Code", Project: "p", Date: "2026-01-01",
		StartTime: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), Duration: 600}
	recent := &core.Activity{ID: "recent", App: "Code", Project: "p", Date: "2026-02-20",
		StartTime: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC), Duration: 600}
	require.NoError(t, f.store.Activities.Upsert(old))
	require.NoError(t, f.store.Activities.Upsert(recent))
	require.NoError(t, f.store.Focus.Append(core.FocusSession{ID: "f1", Date: "2026-02-20", Duration: 600}))
	require.NoError(t, f.store.Focus.Append(core.FocusSession{ID: "f2", Date: "2026-03-01", Duration: 600}))

	require.NoError(t, f.tr.RunRetention(f.ctx))

	list := f.stored(t, core.ActivityFilter{})
	require.Len(t, list, 1)
	assert.Equal(t, "recent", list[0].ID)

	sessions, err := f.store.Focus.List("")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "f2", sessions[0].ID)
}

func TestTracker_FocusSessionsFollowProjects(t *testing.T) {
	f := newFixture(t, monday, nil)
	f.probe.SetWindow("Code", "main.rs - demo - Editor", "")
	f.tr.Start()
	f.samples(t, 2, 5*time.Second)
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.tr.Sample(f.ctx))

	fs := f.tr.Status().FocusSession
	require.NotNil(t, fs)
	assert.Equal(t, "demo", fs.Project)

	f.tr.Stop()
	sessions, err := f.store.Focus.List("")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "demo", sessions[0].Project)
}

func TestTracker_ScheduledLoopSamples(t *testing.T) {
	s := testutil.TestStore(t)
	probe := testutil.NewScriptedProbe()
	probe.SetWindow("Code", "main.rs - demo - Editor", "")
	tr, err := New(Config{
		Probe:           probe,
		Logger:          logging.Discard(),
		InitialInterval: 10 * time.Millisecond,
		IdleInterval:    10 * time.Millisecond,
	}.FromStore(s))
	require.NoError(t, err)

	_, err = tr.Start()
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return probe.Calls() > 0 }, 3*time.Second, 10*time.Millisecond)
	_, err = tr.Stop()
	require.NoError(t, err)
	assert.False(t, tr.Scheduler().Running())
}
