package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
)

// memRepo is an in-memory ActivityRepository that counts writes and can be
// told to fail.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*core.Activity
	upserts int
	failing error
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*core.Activity)}
}

func (r *memRepo) List(filter core.ActivityFilter) ([]*core.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.Activity
	for _, a := range r.records {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) FindByID(id string) (*core.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.records[id]; ok {
		return a.Clone(), nil
	}
	return nil, core.ErrRecordNotFound
}

func (r *memRepo) FindByAppProjectDate(app, project string, date core.Date) (*core.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.records {
		if a.App == app && a.Project == project && a.Date == date {
			return a.Clone(), nil
		}
	}
	return nil, core.ErrRecordNotFound
}

func (r *memRepo) Upsert(a *core.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return r.failing
	}
	r.upserts++
	r.records[a.ID] = a.Clone()
	return nil
}

func (r *memRepo) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return core.ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) Consolidate() (int, error) { return 0, nil }

func (r *memRepo) fail(err error) {
	r.mu.Lock()
	r.failing = err
	r.mu.Unlock()
}

func (r *memRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

var day = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestConsolidator(t *testing.T, repo ActivityRepository, mutate func(*core.Settings)) *Consolidator {
	t.Helper()
	s := core.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	c, err := NewConsolidator(repo, func() core.Settings { return s }, time.UTC, 0, logging.Discard())
	require.NoError(t, err)
	return c
}

func code(project string) core.Descriptor {
	return core.Descriptor{App: "Code", Title: "main.go - " + project + " - Editor", Project: project, Tickets: []string{}, Tags: []string{"development"}}
}

func TestConsolidator_NewRecordIsBackdated(t *testing.T) {
	c := newTestConsolidator(t, newMemRepo(), nil)

	c.Apply(code("demo"), day, 30)
	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, day.Add(-30*time.Second), cur.StartTime)
	assert.Equal(t, day, cur.EndTime)
	assert.Equal(t, int64(30), cur.Duration)
	assert.Equal(t, int64(30), cur.ActualDuration)
	assert.Equal(t, core.Date("2026-03-02"), cur.Date)
}

func TestConsolidator_SwitchSavesAndResumes(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 100)
	first := c.Current().ID
	c.Apply(code("beta"), day.Add(50*time.Second), 50)
	assert.NotEqual(t, first, c.Current().ID)

	saved, err := repo.FindByID(first)
	require.NoError(t, err)
	assert.Equal(t, int64(100), saved.Duration)

	// Coming back resumes today's record instead of opening a second one.
	c.Apply(code("alpha"), day.Add(80*time.Second), 30)
	cur := c.Current()
	assert.Equal(t, first, cur.ID)
	assert.Equal(t, int64(130), cur.Duration)
}

func TestConsolidator_ShortRecordsAreNotWritten(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 59)
	c.Apply(code("beta"), day.Add(5*time.Second), 5)
	assert.Equal(t, 0, repo.writes())
}

func TestConsolidator_AutosaveDeduplicates(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 100)
	require.NoError(t, c.Autosave())
	require.NoError(t, c.Autosave())
	assert.Equal(t, 1, repo.writes())

	c.Credit(3, day.Add(3*time.Second)) // 103 rounds to 100
	require.NoError(t, c.Autosave())
	assert.Equal(t, 1, repo.writes())

	// The final write is never suppressed.
	require.NoError(t, c.Flush())
	assert.Equal(t, 2, repo.writes())
	list, _ := repo.List(core.ActivityFilter{})
	require.Len(t, list, 1)
	assert.Equal(t, int64(103), list[0].Duration)
}

func TestConsolidator_StoreFailureKeepsRecord(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	repo.fail(errors.New("disk full"))
	c.Apply(code("alpha"), day, 100)
	c.Apply(code("beta"), day.Add(100*time.Second), 100)
	assert.Equal(t, 0, repo.writes())

	// The failed record is still visible and resumable.
	list, err := c.List(core.ActivityFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	c.Apply(code("alpha"), day.Add(110*time.Second), 10)
	assert.Equal(t, int64(110), c.Current().Duration)

	repo.fail(nil)
	require.NoError(t, c.Flush())
	stored, _ := repo.List(core.ActivityFilter{})
	require.Len(t, stored, 2)
	total := int64(0)
	for _, a := range stored {
		total += a.Duration
	}
	assert.Equal(t, int64(210), total)
}

func TestConsolidator_HoldAndRelease(t *testing.T) {
	c := newTestConsolidator(t, newMemRepo(), nil)
	c.Hold(5)
	c.Hold(3)
	assert.Equal(t, int64(8), c.Held())
	assert.Equal(t, int64(8), c.ReleaseHeld())
	assert.Equal(t, int64(0), c.Held())

	c.Hold(4)
	c.DiscardHeld()
	assert.Equal(t, int64(0), c.ReleaseHeld())
}

func TestConsolidator_ResolveIdle(t *testing.T) {
	for _, working := range []bool{false, true} {
		repo := newMemRepo()
		c := newTestConsolidator(t, repo, nil)

		c.Apply(code("alpha"), day, 600)
		idleStart := day
		c.MarkIdle(idleStart)
		assert.Nil(t, c.Current())

		period := core.IdlePeriod{Start: idleStart, End: idleStart.Add(20 * time.Minute), Duration: 1200}
		got, err := c.ResolveIdle(period, working)
		require.NoError(t, err)
		require.Len(t, got.IdlePeriods, 1)
		assert.Equal(t, !working, got.IdlePeriods[0].Excluded)
		if working {
			assert.Equal(t, int64(1800), got.Duration)
			assert.Equal(t, int64(1800), got.ActualDuration)
			assert.Equal(t, period.End, got.EndTime)
		} else {
			assert.Equal(t, int64(600), got.Duration)
			assert.Equal(t, int64(600), got.ActualDuration)
		}

		stored, err := repo.FindByID(got.ID)
		require.NoError(t, err)
		assert.Equal(t, got.Duration, stored.Duration)
		assert.False(t, stored.IsIdle)
	}
}

func TestConsolidator_ResolveIdleOnResumedRecord(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 600)
	c.MarkIdle(day)
	back := day.Add(20 * time.Minute)
	c.Apply(code("alpha"), back.Add(5*time.Second), 5)

	_, err := c.ResolveIdle(core.IdlePeriod{Start: day, End: back, Duration: 1200}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1805), c.Current().Duration, "the live copy carries the resolution")
}

func TestConsolidator_ResolveIdleWithoutRecord(t *testing.T) {
	c := newTestConsolidator(t, newMemRepo(), nil)
	_, err := c.ResolveIdle(core.IdlePeriod{Start: day, End: day.Add(time.Hour), Duration: 3600}, false)
	assert.ErrorIs(t, err, core.ErrNothingToDo)
}

func TestConsolidator_CreateManual(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	_, err := c.CreateManual(code("alpha"), day, day)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = c.CreateManual(code("alpha"), day, day.Add(30*time.Second))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	a, err := c.CreateManual(code("alpha"), day, day.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, a.IsManual)
	assert.Equal(t, int64(3600), a.Duration)

	// Tracking the same key resumes the manual record.
	c.Apply(code("alpha"), day.Add(2*time.Hour), 5)
	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, a.ID, cur.ID)
	assert.Equal(t, int64(3605), cur.Duration)
}

func TestConsolidator_CreateManualJoinsLiveRecord(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day.Add(2*time.Hour), 120)
	live := c.Current()

	a, err := c.CreateManual(code("alpha"), day.Add(-time.Hour), day)
	require.NoError(t, err)
	assert.Equal(t, live.ID, a.ID)
	assert.Equal(t, int64(3720), a.Duration)
	assert.True(t, a.IsManual)
	assert.Equal(t, day.Add(-time.Hour), a.StartTime)
	assert.Equal(t, a.Duration, c.Current().Duration)

	list, err := repo.List(core.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3720), list[0].Duration)
}

func TestConsolidator_EnrichOnlyBrowsers(t *testing.T) {
	c := newTestConsolidator(t, newMemRepo(), nil)
	assert.False(t, c.Enrich([]string{"ABC-1"}, nil, nil, ""))

	c.Apply(code("alpha"), day, 10)
	assert.False(t, c.Enrich([]string{"ABC-1"}, nil, nil, ""))
	assert.Empty(t, c.Current().Tickets)
}

func TestConsolidator_EnrichSetsProjectOnlyFromDefault(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	chrome := core.Descriptor{App: "Google Chrome", Title: "Board", Project: "General", Tickets: []string{}, Tags: []string{}}
	c.Apply(chrome, day, 10)
	target := &core.MappingValue{Project: "Acme", SAPCode: "SAP-1"}

	require.True(t, c.Enrich([]string{"ABC-1"}, []string{"jira"}, target, "https://jira.acme.io/browse/ABC-1"))
	cur := c.Current()
	assert.Equal(t, "Acme", cur.Project)
	assert.Equal(t, "SAP-1", cur.SAPCode)
	assert.Equal(t, []string{"ABC-1"}, cur.Tickets)
	assert.Equal(t, "https://jira.acme.io/browse/ABC-1", cur.URL)
	assert.Equal(t, int64(10), cur.Duration)

	// A real project is never overwritten.
	require.True(t, c.Enrich(nil, nil, &core.MappingValue{Project: "Other"}, ""))
	assert.Equal(t, "Acme", c.Current().Project)
}

func TestConsolidator_EnrichKeepsKeysUnique(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	chrome := func(project string) core.Descriptor {
		return core.Descriptor{App: "Google Chrome", Title: project, Project: project, Tickets: []string{}, Tags: []string{}}
	}
	c.Apply(chrome("Acme"), day, 100)
	c.Apply(chrome("General"), day.Add(10*time.Second), 10)

	c.Enrich(nil, nil, &core.MappingValue{Project: "Acme"}, "")
	assert.Equal(t, "General", c.Current().Project)
}

func TestConsolidator_UpdateAndDelete(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 100)
	id := c.Current().ID

	title := "renamed"
	dur := int64(50)
	got, err := c.Update(id, core.ActivityPatch{Title: &title, Duration: &dur})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, int64(50), got.ActualDuration, "actual never exceeds duration")
	assert.Equal(t, "renamed", c.Current().Title)

	neg := int64(-1)
	_, err = c.Update(id, core.ActivityPatch{Duration: &neg})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	require.NoError(t, c.Delete(id))
	assert.Nil(t, c.Current())
	assert.ErrorIs(t, c.Delete(id), core.ErrRecordNotFound)
	_, err = c.Lookup(id)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestConsolidator_ListOverlaysLiveRecord(t *testing.T) {
	repo := newMemRepo()
	c := newTestConsolidator(t, repo, nil)

	c.Apply(code("alpha"), day, 100)
	require.NoError(t, c.Autosave())
	c.Credit(20, day.Add(20*time.Second))

	list, err := c.List(core.ActivityFilter{Date: "2026-03-02"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(120), list[0].Duration)

	list, err = c.List(core.ActivityFilter{Date: "2026-03-03"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChecksum_RoundsToTenSeconds(t *testing.T) {
	a := &core.Activity{App: "Code", Project: "p", Date: "2026-03-02", Duration: 101}
	b := a.Clone()
	b.Duration = 104
	assert.Equal(t, checksum(a), checksum(b))
	b.Duration = 105
	assert.NotEqual(t, checksum(a), checksum(b))
}
