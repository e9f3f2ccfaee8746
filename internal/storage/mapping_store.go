package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/quantumlife/worktrail/internal/core"
)

// mappingKeys maps each table to its persisted key.
var mappingKeys = map[core.MappingKind]string{
	core.MappingProject: KeyProjectMappings,
	core.MappingURL:     KeyURLProjectMappings,
	core.MappingJira:    KeyJiraProjectMappings,
	core.MappingMeeting: KeyMeetingMappings,
}

// MappingStore persists the four mapping tables.
type MappingStore struct {
	kv *KV
	mu sync.Mutex

	// onChange runs after every successful write.
	onChange func(core.MappingKind)
}

// NewMappingStore creates a new mapping store
func NewMappingStore(kv *KV) *MappingStore {
	return &MappingStore{kv: kv}
}

// OnChange registers a callback invoked after a table changes.
func (s *MappingStore) OnChange(fn func(core.MappingKind)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MappingStore) table(kind core.MappingKind) (core.MappingTable, error) {
	key, ok := mappingKeys[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMapping, kind)
	}
	table := make(core.MappingTable)
	if _, err := s.kv.Get(key, &table); err != nil {
		return make(core.MappingTable), err
	}
	return table, nil
}

// Tables returns a snapshot of all four tables. Unreadable tables are
// returned empty alongside the first error.
func (s *MappingStore) Tables() (core.MappingTables, error) {
	var firstErr error
	get := func(kind core.MappingKind) core.MappingTable {
		t, err := s.table(kind)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return t
	}
	return core.MappingTables{
		Project: get(core.MappingProject),
		URL:     get(core.MappingURL),
		Jira:    get(core.MappingJira),
		Meeting: get(core.MappingMeeting),
	}, firstErr
}

// Set adds or replaces a mapping.
func (s *MappingStore) Set(kind core.MappingKind, pattern string, value core.MappingValue) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("%w: pattern", core.ErrMissingRequired)
	}
	if strings.TrimSpace(value.Project) == "" {
		return fmt.Errorf("%w: project", core.ErrMissingRequired)
	}
	if kind == core.MappingJira {
		pattern = strings.ToUpper(pattern)
	}

	s.mu.Lock()
	table, err := s.table(kind)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	table[pattern] = value
	err = s.kv.Set(mappingKeys[kind], table)
	cb := s.onChange
	s.mu.Unlock()

	if err == nil && cb != nil {
		cb(kind)
	}
	return err
}

// Remove deletes a mapping and reports whether it existed.
func (s *MappingStore) Remove(kind core.MappingKind, pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	if kind == core.MappingJira {
		pattern = strings.ToUpper(pattern)
	}

	s.mu.Lock()
	table, err := s.table(kind)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, ok := table[pattern]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(table, pattern)
	err = s.kv.Set(mappingKeys[kind], table)
	cb := s.onChange
	s.mu.Unlock()

	if err == nil && cb != nil {
		cb(kind)
	}
	return err == nil, err
}
