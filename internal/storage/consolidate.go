package storage

import (
	"sort"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// PassOptions tune a consolidation pass over the activities collection.
type PassOptions struct {
	MinDuration   int64         // records below this are dropped
	MaxActivities int           // newest N are kept; 0 means no cap
	MergeGap      time.Duration // merge window for step 2
	Merge         bool          // run step 2; only on demand
}

// PassOptionsFor derives pass options from user settings.
func PassOptionsFor(s core.Settings, merge bool) PassOptions {
	return PassOptions{
		MinDuration:   s.MinActivityDuration,
		MaxActivities: s.MaxActivities,
		MergeGap:      time.Duration(s.MergeGapThreshold) * time.Second,
		Merge:         merge,
	}
}

// ConsolidatePass runs the consolidation steps in order:
//
//  1. structural duplicates keyed by (start_time, title), keeping the longer;
//  2. optionally, merging consecutive same (app, title, project) records of
//     the same date that start within MergeGap of the previous one ending;
//  3. capping at MaxActivities, discarding the oldest;
//  4. dropping records shorter than MinDuration.
//
// The input is not modified. The result is sorted by start time and the
// count is how many records were removed or merged away.
func ConsolidatePass(in []*core.Activity, opts PassOptions) ([]*core.Activity, int) {
	list := make([]*core.Activity, 0, len(in))
	for _, a := range in {
		if a != nil {
			list = append(list, a)
		}
	}
	sortByStart(list)

	list = dedupStructural(list)
	if opts.Merge {
		list = mergeConsecutive(list, opts.MergeGap)
	}
	if opts.MaxActivities > 0 && len(list) > opts.MaxActivities {
		list = list[len(list)-opts.MaxActivities:]
	}

	kept := list[:0:0]
	for _, a := range list {
		if a.Duration >= opts.MinDuration {
			kept = append(kept, a)
		}
	}
	return kept, len(in) - len(kept)
}

func sortByStart(list []*core.Activity) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.Before(list[j].StartTime)
		}
		return list[i].ID < list[j].ID
	})
}

type structuralKey struct {
	start int64
	title string
}

func dedupStructural(list []*core.Activity) []*core.Activity {
	index := make(map[structuralKey]int, len(list))
	out := make([]*core.Activity, 0, len(list))
	for _, a := range list {
		k := structuralKey{start: a.StartTime.UnixNano(), title: a.Title}
		if i, ok := index[k]; ok {
			if a.Duration > out[i].Duration {
				out[i] = a
			}
			continue
		}
		index[k] = len(out)
		out = append(out, a)
	}
	return out
}

func mergeConsecutive(list []*core.Activity, gap time.Duration) []*core.Activity {
	out := make([]*core.Activity, 0, len(list))
	for _, a := range list {
		if n := len(out); n > 0 && mergeable(out[n-1], a, gap) {
			out[n-1] = mergeInto(out[n-1], a)
			continue
		}
		out = append(out, a)
	}
	return out
}

func mergeable(prev, next *core.Activity, gap time.Duration) bool {
	if prev.IsManual || next.IsManual {
		return false
	}
	if prev.App != next.App || prev.Title != next.Title || prev.Project != next.Project {
		return false
	}
	if prev.Date != next.Date {
		return false
	}
	return next.StartTime.Sub(prev.EndTime) <= gap
}

func mergeInto(prev, next *core.Activity) *core.Activity {
	m := prev.Clone()
	m.Duration += next.Duration
	m.ActualDuration += next.ActualDuration
	if next.EndTime.After(m.EndTime) {
		m.EndTime = next.EndTime
	}
	m.Tickets = core.Union(m.Tickets, next.Tickets)
	m.Tags = core.Union(m.Tags, next.Tags)
	m.IdlePeriods = append(m.IdlePeriods, next.IdlePeriods...)
	m.Billable = m.Billable && next.Billable
	if m.URL == "" {
		m.URL = next.URL
	}
	return m
}
