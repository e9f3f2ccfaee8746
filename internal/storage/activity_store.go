package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
)

// DefaultCacheTTL is how long a read of the activities collection is reused.
const DefaultCacheTTL = 5 * time.Second

const activitiesCacheKey = "all"

// ActivityStore handles activity persistence. The whole collection lives
// under one key; reads go through a short-lived cache that every write
// invalidates.
type ActivityStore struct {
	kv       *KV
	settings *SettingsStore
	cache    *expirable.LRU[string, []*core.Activity]
	ceiling  int // hard cap on stored records; 0 defers to settings
	logger   *logging.Logger

	mu sync.Mutex // serializes read-modify-write cycles
}

// NewActivityStore creates a new activity store
func NewActivityStore(kv *KV, settings *SettingsStore, ttl time.Duration, logger *logging.Logger) *ActivityStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ActivityStore{
		kv:       kv,
		settings: settings,
		cache:    expirable.NewLRU[string, []*core.Activity](1, nil, ttl),
		logger:   logger.Component("activities"),
	}
}

// load returns the collection. The returned slice is shared with the cache
// and must not be mutated.
func (s *ActivityStore) load() ([]*core.Activity, error) {
	if list, ok := s.cache.Get(activitiesCacheKey); ok {
		return list, nil
	}

	var list []*core.Activity
	if _, err := s.kv.Get(KeyActivities, &list); err != nil {
		if !errors.Is(err, core.ErrCorrupt) {
			return nil, err
		}
		aside, qerr := s.kv.Quarantine(KeyActivities)
		if qerr != nil {
			return nil, qerr
		}
		s.logger.Error("activities unreadable, moved to %s: %v", aside, err)
		list = nil
	}
	s.cache.Add(activitiesCacheKey, list)
	return list, nil
}

func (s *ActivityStore) write(list []*core.Activity, opts PassOptions) (int, error) {
	s.cache.Purge()
	out, removed := ConsolidatePass(list, opts)
	if err := s.kv.Set(KeyActivities, out); err != nil {
		return 0, err
	}
	return removed, nil
}

// SetCeiling bounds the record cap no matter what the settings allow.
func (s *ActivityStore) SetCeiling(n int) {
	s.mu.Lock()
	s.ceiling = n
	s.mu.Unlock()
}

func (s *ActivityStore) passOptions(merge bool) PassOptions {
	opts := PassOptionsFor(s.settings.Current(), merge)
	if s.ceiling > 0 && (opts.MaxActivities <= 0 || opts.MaxActivities > s.ceiling) {
		opts.MaxActivities = s.ceiling
	}
	return opts
}

// List returns clones of the records matching filter, oldest first.
func (s *ActivityStore) List(filter core.ActivityFilter) ([]*core.Activity, error) {
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*core.Activity, 0)
	for _, a := range list {
		if !filter.Matches(a) {
			continue
		}
		out = append(out, a.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// FindByID returns a record by ID
func (s *ActivityStore) FindByID(id string) (*core.Activity, error) {
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.ID == id {
			return a.Clone(), nil
		}
	}
	return nil, core.ErrRecordNotFound
}

// FindByAppProjectDate returns the record for a per-day identity. Manual
// records hold a key like any other.
func (s *ActivityStore) FindByAppProjectDate(app, project string, date core.Date) (*core.Activity, error) {
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.App == app && a.Project == project && a.Date == date {
			return a.Clone(), nil
		}
	}
	return nil, core.ErrRecordNotFound
}

// Upsert replaces the record with the same ID or appends it.
func (s *ActivityStore) Upsert(a *core.Activity) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: activity id", core.ErrMissingRequired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	next := make([]*core.Activity, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.ID == a.ID {
			next = append(next, a.Clone())
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, a.Clone())
	}
	_, err = s.write(next, s.passOptions(false))
	return err
}

// Remove deletes a record. It reports ErrRecordNotFound for unknown IDs.
func (s *ActivityStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	next := make([]*core.Activity, 0, len(list))
	for _, a := range list {
		if a.ID != id {
			next = append(next, a)
		}
	}
	if len(next) == len(list) {
		return core.ErrRecordNotFound
	}
	_, err = s.write(next, s.passOptions(false))
	return err
}

// Consolidate runs the full pass including merging and returns how many
// records were removed or merged.
func (s *ActivityStore) Consolidate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return 0, err
	}
	return s.write(list, s.passOptions(true))
}

// Prune removes records dated before cutoff.
func (s *ActivityStore) Prune(cutoff core.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return 0, err
	}
	next := make([]*core.Activity, 0, len(list))
	for _, a := range list {
		if a.Date >= cutoff {
			next = append(next, a)
		}
	}
	pruned := len(list) - len(next)
	if pruned == 0 {
		return 0, nil
	}
	if _, err := s.write(next, s.passOptions(false)); err != nil {
		return 0, err
	}
	return pruned, nil
}

// Invalidate drops the cached collection.
func (s *ActivityStore) Invalidate() {
	s.cache.Purge()
}
