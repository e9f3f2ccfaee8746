package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantumlife/worktrail/internal/classifier"
	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/platform"
)

// DefaultDedupSize is the number of recent save checksums remembered.
const DefaultDedupSize = 50

// ActivityRepository is the slice of the activity store the consolidator
// needs. *storage.ActivityStore satisfies it.
type ActivityRepository interface {
	List(filter core.ActivityFilter) ([]*core.Activity, error)
	FindByID(id string) (*core.Activity, error)
	FindByAppProjectDate(app, project string, date core.Date) (*core.Activity, error)
	Upsert(a *core.Activity) error
	Remove(id string) error
	Consolidate() (int, error)
}

// Consolidator owns the live record and is the only writer of activity
// durations. Every second credited to it lands on exactly one record.
type Consolidator struct {
	repo     ActivityRepository
	settings func() core.Settings
	loc      *time.Location
	logger   *logging.Logger

	mu        sync.Mutex
	live      *core.Activity
	liveDesc  core.Descriptor
	liveSince time.Time
	pending   []*core.Activity // switched away from while the store was failing
	held      int64
	recent    *lru.Cache[string, struct{}]
}

// NewConsolidator creates a consolidator over repo.
func NewConsolidator(repo ActivityRepository, settings func() core.Settings, loc *time.Location, dedupSize int, logger *logging.Logger) (*Consolidator, error) {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	recent, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	if settings == nil {
		settings = core.DefaultSettings
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consolidator{
		repo:     repo,
		settings: settings,
		loc:      loc,
		logger:   logger.Component("consolidator"),
		recent:   recent,
	}, nil
}

// Current returns a copy of the live record, or nil.
func (c *Consolidator) Current() *core.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.Clone()
}

// Apply attributes seconds of elapsed time observed at now to the record
// matching d. A continuation extends the live record; anything else saves
// the live record and moves the seconds to the record for d, found or new.
func (c *Consolidator) Apply(d core.Descriptor, now time.Time, seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.settings()
	if c.live != nil {
		age := now.Sub(c.liveSince)
		if classifier.CanContinue(c.liveDesc, d, age, s) {
			c.extendLocked(d)
			c.creditLocked(seconds, now)
			return
		}
		if c.live.App == d.App && c.live.Project == d.Project && c.live.Date == platform.LocalDate(now, c.loc) {
			// Same record, new window: keep the slot and record the change.
			c.saveLocked(false)
			c.extendLocked(d)
			c.liveSince = now
			c.creditLocked(seconds, now)
			return
		}
		c.releaseLiveLocked()
	}
	c.startLocked(d, now, seconds)
}

// Credit adds seconds to the live record, if any.
func (c *Consolidator) Credit(seconds int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creditLocked(seconds, now)
}

// CloseDay credits seconds to the live record ending at midnight, saves
// it and empties the slot.
func (c *Consolidator) CloseDay(seconds int64, midnight time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return
	}
	c.creditLocked(seconds, midnight)
	c.live.EndTime = midnight
	c.releaseLiveLocked()
}

// Hold defers seconds observed while input is quiet.
func (c *Consolidator) Hold(seconds int64) {
	if seconds <= 0 {
		return
	}
	c.mu.Lock()
	c.held += seconds
	c.mu.Unlock()
}

// ReleaseHeld returns the held seconds and zeroes them.
func (c *Consolidator) ReleaseHeld() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.held
	c.held = 0
	return h
}

// DiscardHeld drops held seconds; they belonged to an idle stretch.
func (c *Consolidator) DiscardHeld() {
	c.mu.Lock()
	c.held = 0
	c.mu.Unlock()
}

// TrimHeld caps the held seconds at limit.
func (c *Consolidator) TrimHeld(limit int64) {
	c.mu.Lock()
	if c.held > limit {
		c.held = max(limit, 0)
	}
	c.mu.Unlock()
}

// Held reports the seconds currently held.
func (c *Consolidator) Held() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// MarkIdle stamps the live record with the idle start, saves it and empties
// the slot.
func (c *Consolidator) MarkIdle(idleStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = 0
	if c.live == nil {
		return
	}
	t := idleStart
	c.live.IdleStartTime = &t
	c.live.IsIdle = true
	c.releaseLiveLocked()
}

// Autosave writes the live record without clearing it.
func (c *Consolidator) Autosave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryPendingLocked()
	return c.saveLocked(false)
}

// Flush saves the live record and any pending ones, then empties the slot.
func (c *Consolidator) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.saveLocked(true)
	if err != nil && c.live != nil {
		c.pending = append(c.pending, c.live)
	}
	c.live = nil
	c.liveDesc = core.Descriptor{}
	c.held = 0
	if perr := c.retryPendingLocked(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// ResolveIdle applies the user's answer for period to the record that went
// idle at period.Start. Answering false records the gap as excluded; true
// credits it as work. The write bypasses deduplication.
func (c *Consolidator) ResolveIdle(period core.IdlePeriod, wasWorking bool) (*core.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, fromStore, err := c.findIdleLocked(period.Start)
	if err != nil {
		return nil, err
	}

	entry := core.IdlePeriod{Start: period.Start, End: period.End, Duration: period.Duration, Excluded: !wasWorking}
	target.IdlePeriods = append(target.IdlePeriods, entry)
	target.IsIdle = false
	if wasWorking {
		target.Duration += period.Duration
		target.ActualDuration += period.Duration
		if period.End.After(target.EndTime) {
			target.EndTime = period.End
		}
	}

	if err := c.repo.Upsert(target); err != nil {
		c.logger.Warn("failed to save idle resolution for %s: %v", target.ID, err)
		if fromStore {
			c.pending = append(c.pending, target)
		}
		return target.Clone(), err
	}
	c.dropPendingLocked(target.ID)
	c.recent.Add(checksum(target), struct{}{})
	return target.Clone(), nil
}

// findIdleLocked returns the record stamped with idleStart, preferring the
// in-memory copies. fromStore reports that the record is a fresh copy read
// from the store rather than the live or a pending record.
func (c *Consolidator) findIdleLocked(idleStart time.Time) (*core.Activity, bool, error) {
	stamped := func(a *core.Activity) bool {
		return a != nil && a.IdleStartTime != nil && a.IdleStartTime.Equal(idleStart)
	}
	if stamped(c.live) {
		return c.live, false, nil
	}
	for _, p := range c.pending {
		if stamped(p) {
			return p, false, nil
		}
	}
	list, err := c.repo.List(core.ActivityFilter{})
	if err != nil {
		return nil, false, err
	}
	var found *core.Activity
	for _, a := range list {
		if stamped(a) && (found == nil || a.StartTime.After(found.StartTime)) {
			found = a
		}
	}
	if found == nil {
		return nil, false, fmt.Errorf("%w: no record went idle at %s", core.ErrNothingToDo, idleStart.Format(time.RFC3339))
	}
	return found, true, nil
}

// CreateManual writes a user-entered record directly, bypassing the slot.
// When the day already has a record for (app, project), the entry is
// added to it instead, so the key stays unique.
func (c *Consolidator) CreateManual(d core.Descriptor, start, end time.Time) (*core.Activity, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", core.ErrInvalidInput)
	}
	secs := int64(end.Sub(start) / time.Second)
	if minDur := c.settings().MinActivityDuration; secs < minDur {
		return nil, fmt.Errorf("%w: shorter than %ds", core.ErrInvalidInput, minDur)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	date := platform.LocalDate(start, c.loc)
	if c.live != nil && c.live.App == d.App && c.live.Project == d.Project && c.live.Date == date {
		addManual(c.live, start, end, secs)
		if err := c.saveLocked(true); err != nil {
			return nil, err
		}
		return c.live.Clone(), nil
	}
	if p := c.takePendingLocked(d.App, d.Project, date); p != nil {
		addManual(p, start, end, secs)
		c.pending = append(c.pending, p)
		if err := c.retryPendingLocked(); err != nil {
			return nil, err
		}
		return p.Clone(), nil
	}

	a, err := c.repo.FindByAppProjectDate(d.App, d.Project, date)
	switch {
	case err == nil:
		addManual(a, start, end, secs)
	case errors.Is(err, core.ErrRecordNotFound):
		a = newRecord(d, start, c.loc)
		a.EndTime = end
		a.Duration = secs
		a.ActualDuration = secs
		a.IsManual = true
	default:
		return nil, err
	}
	if err := c.repo.Upsert(a); err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// addManual folds a manual entry into an existing record for its key.
func addManual(a *core.Activity, start, end time.Time, secs int64) {
	a.Duration += secs
	a.ActualDuration += secs
	if start.Before(a.StartTime) {
		a.StartTime = start
	}
	if end.After(a.EndTime) {
		a.EndTime = end
	}
	a.IsManual = true
}

// Enrich merges browser-side context into the live record: tickets are
// unioned and, when the record has no real project yet, project names a
// mapping target. It never creates records or touches durations.
func (c *Consolidator) Enrich(tickets, tags []string, project *core.MappingValue, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.live
	if a == nil || !classifier.IsBrowser(a.App) {
		return false
	}

	a.Tickets = core.Union(a.Tickets, tickets)
	a.Tags = core.Union(a.Tags, tags)
	c.liveDesc.Tickets = a.Tickets
	c.liveDesc.Tags = a.Tags
	if a.URL == "" && url != "" {
		a.URL = url
	}

	s := c.settings()
	if project != nil && project.Project != "" && (a.Project == "" || a.Project == s.DefaultProject) && project.Project != a.Project {
		if c.keyTakenLocked(a.App, project.Project, a.Date, a.ID) {
			c.logger.Debug("enrichment skipped: %s/%s already recorded today", a.App, project.Project)
		} else {
			a.Project = project.Project
			c.liveDesc.Project = project.Project
			applyTarget(a, *project)
		}
	}
	return true
}

func (c *Consolidator) keyTakenLocked(app, project string, date core.Date, selfID string) bool {
	for _, p := range c.pending {
		if p.ID != selfID && p.App == app && p.Project == project && p.Date == date {
			return true
		}
	}
	other, err := c.repo.FindByAppProjectDate(app, project, date)
	return err == nil && other.ID != selfID
}

// Lookup returns a record by ID, preferring the in-memory copies.
func (c *Consolidator) Lookup(id string) (*core.Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil && c.live.ID == id {
		return c.live.Clone(), nil
	}
	for _, p := range c.pending {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return c.repo.FindByID(id)
}

// List returns stored records overlaid with the in-memory copies.
func (c *Consolidator) List(filter core.ActivityFilter) ([]*core.Activity, error) {
	limit := filter.Limit
	filter.Limit = 0
	stored, err := c.repo.List(filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	overlay := make([]*core.Activity, 0, len(c.pending)+1)
	for _, p := range c.pending {
		overlay = append(overlay, p.Clone())
	}
	if c.live != nil {
		overlay = append(overlay, c.live.Clone())
	}
	c.mu.Unlock()

	byID := make(map[string]int, len(stored))
	for i, a := range stored {
		byID[a.ID] = i
	}
	for _, a := range overlay {
		if !filter.Matches(a) {
			continue
		}
		if i, ok := byID[a.ID]; ok {
			stored[i] = a
			continue
		}
		byID[a.ID] = len(stored)
		stored = append(stored, a)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].StartTime.Before(stored[j].StartTime) })
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	return stored, nil
}

// Update applies a UI patch to a record.
func (c *Consolidator) Update(id string, patch core.ActivityPatch) (*core.Activity, error) {
	if patch.Duration != nil && *patch.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", core.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.inMemoryLocked(id)
	if target == nil {
		stored, err := c.repo.FindByID(id)
		if err != nil {
			return nil, err
		}
		target = stored
	}
	applyPatch(target, patch)
	if c.live != nil && c.live.ID == id {
		c.liveDesc.Title = target.Title
		c.liveDesc.Project = target.Project
	}
	c.recent.Purge()
	if err := c.repo.Upsert(target); err != nil {
		return nil, err
	}
	c.dropPendingLocked(id)
	return target.Clone(), nil
}

// Delete removes a record, emptying the slot if it was live.
func (c *Consolidator) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasLive := c.live != nil && c.live.ID == id
	if wasLive {
		c.live = nil
		c.liveDesc = core.Descriptor{}
	}
	hadPending := c.dropPendingLocked(id)
	c.recent.Purge()

	err := c.repo.Remove(id)
	if errors.Is(err, core.ErrRecordNotFound) && (wasLive || hadPending) {
		return nil
	}
	return err
}

// ConsolidateNow saves the live record and runs the store's merging pass.
func (c *Consolidator) ConsolidateNow() (int, error) {
	c.mu.Lock()
	c.retryPendingLocked()
	if err := c.saveLocked(true); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.mu.Unlock()
	return c.repo.Consolidate()
}

// Forget clears the dedup memory. Used after the store changes underneath.
func (c *Consolidator) Forget() {
	c.recent.Purge()
}

// -----------------------------------------------------------------------------
// Internals. Callers hold c.mu.
// -----------------------------------------------------------------------------

func (c *Consolidator) creditLocked(seconds int64, now time.Time) {
	if c.live == nil || seconds <= 0 {
		return
	}
	c.live.Duration += seconds
	c.live.ActualDuration += seconds
	if now.After(c.live.EndTime) {
		c.live.EndTime = now
	}
}

func (c *Consolidator) extendLocked(d core.Descriptor) {
	a := c.live
	a.Title = d.Title
	if d.URL != "" {
		a.URL = d.URL
	}
	a.Tickets = core.Union(a.Tickets, d.Tickets)
	a.Tags = core.Union(a.Tags, d.Tags)
	project := c.liveDesc.Project
	c.liveDesc = d
	c.liveDesc.Project = project
	c.liveDesc.Tickets = a.Tickets
	c.liveDesc.Tags = a.Tags
}

// startLocked makes the record for d live, resuming today's record for the
// same (app, project) when there is one. A new record is back-dated so the
// credited seconds end at now.
func (c *Consolidator) startLocked(d core.Descriptor, now time.Time, seconds int64) {
	today := platform.LocalDate(now, c.loc)

	a := c.takePendingLocked(d.App, d.Project, today)
	if a == nil {
		found, err := c.repo.FindByAppProjectDate(d.App, d.Project, today)
		switch {
		case err == nil:
			a = found
		case errors.Is(err, core.ErrRecordNotFound):
		default:
			c.logger.Warn("lookup of %s/%s failed: %v", d.App, d.Project, err)
		}
	}

	if a != nil {
		a.Title = d.Title
		if d.URL != "" {
			a.URL = d.URL
		}
		a.Tickets = core.Union(a.Tickets, d.Tickets)
		a.Tags = core.Union(a.Tags, d.Tags)
		a.IsIdle = false
	} else {
		if seconds < 0 {
			seconds = 0
		}
		a = newRecord(d, now.Add(-time.Duration(seconds)*time.Second), c.loc)
	}

	c.live = a
	c.liveDesc = d
	c.liveDesc.Project = a.Project
	c.liveDesc.Tickets = a.Tickets
	c.liveDesc.Tags = a.Tags
	c.liveSince = now
	c.creditLocked(seconds, now)
}

// releaseLiveLocked saves the live record and empties the slot. A record
// the store refused is parked in pending and retried on the next save.
func (c *Consolidator) releaseLiveLocked() {
	if c.live == nil {
		return
	}
	if err := c.saveLocked(true); err != nil {
		c.pending = append(c.pending, c.live)
	}
	c.live = nil
	c.liveDesc = core.Descriptor{}
}

// saveLocked writes the live record unless it is below the minimum
// duration. Unforced saves are also skipped when a recent save had the same
// checksum; the final write of a record is always forced.
func (c *Consolidator) saveLocked(force bool) error {
	a := c.live
	if a == nil {
		return nil
	}
	if a.Duration < c.settings().MinActivityDuration {
		return nil
	}
	sum := checksum(a)
	if !force && c.recent.Contains(sum) {
		return nil
	}
	if err := c.repo.Upsert(a); err != nil {
		c.logger.Warn("failed to save %s/%s: %v", a.App, a.Project, err)
		return err
	}
	c.recent.Add(sum, struct{}{})
	return nil
}

func (c *Consolidator) retryPendingLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	minDur := c.settings().MinActivityDuration
	kept := c.pending[:0]
	var firstErr error
	for _, p := range c.pending {
		if p.Duration < minDur {
			continue
		}
		if err := c.repo.Upsert(p); err != nil {
			kept = append(kept, p)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.recent.Add(checksum(p), struct{}{})
	}
	c.pending = kept
	return firstErr
}

func (c *Consolidator) takePendingLocked(app, project string, date core.Date) *core.Activity {
	for i, p := range c.pending {
		if p.App == app && p.Project == project && p.Date == date {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return p
		}
	}
	return nil
}

func (c *Consolidator) dropPendingLocked(id string) bool {
	for i, p := range c.pending {
		if p.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Consolidator) inMemoryLocked(id string) *core.Activity {
	if c.live != nil && c.live.ID == id {
		return c.live
	}
	for _, p := range c.pending {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// checksum identifies a record's saved content: its key and duration to
// the nearest ten seconds.
func checksum(a *core.Activity) string {
	rounded := (a.Duration + 5) / 10 * 10
	return a.App + "\x00" + a.Project + "\x00" + string(a.Date) + "\x00" + strconv.FormatInt(rounded, 10)
}

func newRecord(d core.Descriptor, start time.Time, loc *time.Location) *core.Activity {
	return &core.Activity{
		ID:           uuid.New().String(),
		App:          d.App,
		Title:        d.Title,
		Project:      d.Project,
		URL:          d.URL,
		ActivityType: d.ActivityType,
		SAPCode:      d.SAPCode,
		CostCenter:   d.CostCenter,
		WBSElement:   d.WBSElement,
		Tickets:      append([]string{}, d.Tickets...),
		Tags:         append([]string{}, d.Tags...),
		Billable:     d.Billable,
		StartTime:    start,
		EndTime:      start,
		Date:         platform.LocalDate(start, loc),
		IdlePeriods:  []core.IdlePeriod{},
	}
}

func applyTarget(a *core.Activity, v core.MappingValue) {
	if v.Activity != "" {
		a.ActivityType = v.Activity
	}
	if v.SAPCode != "" {
		a.SAPCode = v.SAPCode
	}
	if v.CostCenter != "" {
		a.CostCenter = v.CostCenter
	}
	if v.WBSElement != "" {
		a.WBSElement = v.WBSElement
	}
}

func applyPatch(a *core.Activity, p core.ActivityPatch) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Project != nil {
		a.Project = *p.Project
	}
	if p.ActivityType != nil {
		a.ActivityType = *p.ActivityType
	}
	if p.SAPCode != nil {
		a.SAPCode = *p.SAPCode
	}
	if p.CostCenter != nil {
		a.CostCenter = *p.CostCenter
	}
	if p.WBSElement != nil {
		a.WBSElement = *p.WBSElement
	}
	if p.Tickets != nil {
		a.Tickets = core.SortedSet(p.Tickets)
	}
	if p.Tags != nil {
		a.Tags = core.SortedSet(p.Tags)
	}
	if p.Billable != nil {
		a.Billable = *p.Billable
	}
	if p.Duration != nil {
		a.Duration = *p.Duration
		if a.ActualDuration > a.Duration {
			a.ActualDuration = a.Duration
		}
	}
}
