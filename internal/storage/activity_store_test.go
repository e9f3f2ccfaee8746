package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
)

// activity builds a record starting at hour:00 on date.
func activity(id, app, project string, date core.Date, hour int, duration int64) *core.Activity {
	day, _ := time.ParseInLocation(core.DateLayout, string(date), time.Local)
	start := day.Add(time.Duration(hour) * time.Hour)
	return &core.Activity{
		ID:             id,
		App:            app,
		Title:          app + " window",
		Project:        project,
		StartTime:      start,
		EndTime:        start.Add(time.Duration(duration) * time.Second),
		Duration:       duration,
		ActualDuration: duration,
		Date:           date,
		Billable:       true,
	}
}

func TestActivityStore_UpsertFind(t *testing.T) {
	s := testStore(t)

	a := activity("a1", "Code", "demo", "2024-03-04", 9, 120)
	require.NoError(t, s.Activities.Upsert(a))

	got, err := s.Activities.FindByID("a1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.Duration)
	assert.True(t, got.StartTime.Equal(a.StartTime))

	got, err = s.Activities.FindByAppProjectDate("Code", "demo", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = s.Activities.FindByAppProjectDate("Code", "demo", "2024-03-05")
	assert.True(t, errors.Is(err, core.ErrRecordNotFound))
	_, err = s.Activities.FindByID("missing")
	assert.True(t, errors.Is(err, core.ErrRecordNotFound))

	// Replace by ID.
	a.Duration = 180
	require.NoError(t, s.Activities.Upsert(a))
	list, err := s.Activities.List(core.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(180), list[0].Duration)
}

func TestActivityStore_ReturnsClones(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Activities.Upsert(activity("a1", "Code", "demo", "2024-03-04", 9, 120)))

	got, err := s.Activities.FindByID("a1")
	require.NoError(t, err)
	got.Duration = 1
	got.Tags = append(got.Tags, "mutated")

	again, err := s.Activities.FindByID("a1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), again.Duration)
	assert.Empty(t, again.Tags)
}

func TestActivityStore_UpsertRequiresID(t *testing.T) {
	s := testStore(t)
	err := s.Activities.Upsert(&core.Activity{App: "x"})
	assert.True(t, errors.Is(err, core.ErrMissingRequired))
}

func TestActivityStore_WriteDropsShortRecords(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Activities.Upsert(activity("short", "Code", "demo", "2024-03-04", 9, 59)))

	list, err := s.Activities.List(core.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestActivityStore_ManualRecordsHoldTheirKey(t *testing.T) {
	s := testStore(t)
	m := activity("m1", "Code", "demo", "2024-03-04", 9, 600)
	m.IsManual = true
	require.NoError(t, s.Activities.Upsert(m))

	found, err := s.Activities.FindByAppProjectDate("Code", "demo", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "m1", found.ID)
}

func TestActivityStore_ListFilter(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Activities.Upsert(activity("a", "Code", "demo", "2024-03-04", 9, 120)))
	require.NoError(t, s.Activities.Upsert(activity("b", "Chrome", "General", "2024-03-04", 10, 120)))
	require.NoError(t, s.Activities.Upsert(activity("c", "Code", "demo", "2024-03-05", 9, 120)))

	byDate, err := s.Activities.List(core.ActivityFilter{Date: "2024-03-04"})
	require.NoError(t, err)
	assert.Len(t, byDate, 2)
	assert.Equal(t, "a", byDate[0].ID, "oldest first")

	byApp, _ := s.Activities.List(core.ActivityFilter{App: "Code"})
	assert.Len(t, byApp, 2)

	byRange, _ := s.Activities.List(core.ActivityFilter{From: "2024-03-05", To: "2024-03-31"})
	require.Len(t, byRange, 1)
	assert.Equal(t, "c", byRange[0].ID)

	byIDs, _ := s.Activities.List(core.ActivityFilter{IDs: []string{"b", "c"}, Limit: 1})
	require.Len(t, byIDs, 1)
	assert.Equal(t, "b", byIDs[0].ID)
}

func TestActivityStore_CeilingCapsRecords(t *testing.T) {
	s := testStore(t)
	s.Activities.SetCeiling(2)

	for i, app := range []string{"Code", "Slack", "Terminal"} {
		require.NoError(t, s.Activities.Upsert(activity(app, app, "demo", "2024-03-04", 9+i, 120)))
	}

	list, err := s.Activities.List(core.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Slack", list[0].ID)
	assert.Equal(t, "Terminal", list[1].ID)
}

func TestActivityStore_Remove(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Activities.Upsert(activity("a", "Code", "demo", "2024-03-04", 9, 120)))

	require.NoError(t, s.Activities.Remove("a"))
	assert.True(t, errors.Is(s.Activities.Remove("a"), core.ErrRecordNotFound))
}

func TestActivityStore_CacheInvalidatedByWrites(t *testing.T) {
	s, err := OpenStore(Options{InMemory: true, CacheTTL: time.Hour, Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()

	list, _ := s.Activities.List(core.ActivityFilter{})
	assert.Empty(t, list)

	require.NoError(t, s.Activities.Upsert(activity("a", "Code", "demo", "2024-03-04", 9, 120)))
	list, _ = s.Activities.List(core.ActivityFilter{})
	assert.Len(t, list, 1, "write must invalidate the cached read")

	// A write that bypasses the store is hidden until the cache expires
	// or is invalidated.
	require.NoError(t, s.KV.Set(KeyActivities, []*core.Activity{}))
	list, _ = s.Activities.List(core.ActivityFilter{})
	assert.Len(t, list, 1)
	s.Activities.Invalidate()
	list, _ = s.Activities.List(core.ActivityFilter{})
	assert.Empty(t, list)
}

func TestActivityStore_CorruptValueIsQuarantined(t *testing.T) {
	s := testStore(t)
	_, err := s.DB().Conn().Exec("INSERT INTO kv (key, value, sealed) VALUES (?, ?, 1)", KeyActivities, []byte("garbage"))
	require.NoError(t, err)

	list, err := s.Activities.List(core.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	// The key is writable again.
	require.NoError(t, s.Activities.Upsert(activity("a", "Code", "demo", "2024-03-04", 9, 120)))
	keys, _ := s.KV.Keys()
	assert.Len(t, keys, 3) // activities, its quarantined copy, version
}

func TestActivityStore_ConsolidateMergesSameDay(t *testing.T) {
	s := testStore(t)

	first := activity("a", "Code", "demo", "2024-03-04", 9, 600)
	second := activity("b", "Code", "demo", "2024-03-04", 9, 300)
	second.StartTime = first.EndTime.Add(2 * time.Minute)
	second.EndTime = second.StartTime.Add(300 * time.Second)
	second.IsManual = false
	other := activity("c", "Code", "demo", "2024-03-05", 9, 300)

	// Write directly so the per-day identity rule of the tracker does not
	// apply; this is the shape left by older data.
	require.NoError(t, s.KV.Set(KeyActivities, []*core.Activity{first, second, other}))
	s.Activities.Invalidate()

	n, err := s.Activities.Consolidate()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.Activities.List(core.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, int64(900), list[0].Duration)
	assert.Equal(t, int64(900), list[0].ActualDuration)
	assert.True(t, list[0].EndTime.Equal(second.EndTime))
}

func TestActivityStore_Prune(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Activities.Upsert(activity("old", "Code", "demo", "2023-01-01", 9, 120)))
	require.NoError(t, s.Activities.Upsert(activity("new", "Code", "demo", "2024-03-04", 9, 120)))

	n, err := s.Activities.Prune("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Activities.Prune("2024-01-01")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// =============================================================================
// Consolidation pass Tests
// =============================================================================

func TestConsolidatePass_StructuralDuplicates(t *testing.T) {
	a := activity("a", "Code", "demo", "2024-03-04", 9, 120)
	b := activity("b", "Code", "demo", "2024-03-04", 9, 300)

	out, removed := ConsolidatePass([]*core.Activity{a, b}, PassOptions{MinDuration: 60})
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID, "longer duplicate wins")
	assert.Equal(t, 1, removed)
}

func TestConsolidatePass_Cap(t *testing.T) {
	var in []*core.Activity
	for h := 0; h < 5; h++ {
		in = append(in, activity(string(rune('a'+h)), "App", "p", "2024-03-04", h, 120))
	}
	out, removed := ConsolidatePass(in, PassOptions{MinDuration: 60, MaxActivities: 3})
	require.Len(t, out, 3)
	assert.Equal(t, 2, removed)
	assert.Equal(t, "c", out[0].ID, "oldest are discarded")
}

func TestConsolidatePass_MergeRespectsGapAndDate(t *testing.T) {
	a := activity("a", "Code", "demo", "2024-03-04", 9, 120)
	far := activity("b", "Code", "demo", "2024-03-04", 12, 120)

	out, removed := ConsolidatePass([]*core.Activity{a, far}, PassOptions{MergeGap: 5 * time.Minute, Merge: true})
	assert.Len(t, out, 2)
	assert.Zero(t, removed)
}

func TestConsolidatePass_DoesNotMutateInput(t *testing.T) {
	a := activity("a", "Code", "demo", "2024-03-04", 9, 600)
	b := activity("b", "Code", "demo", "2024-03-04", 9, 120)
	b.StartTime = a.EndTime

	ConsolidatePass([]*core.Activity{a, b}, PassOptions{MergeGap: time.Minute, Merge: true})
	assert.Equal(t, int64(600), a.Duration)
}
