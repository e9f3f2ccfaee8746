package storage

import (
	"strings"
	"sync"
)

// MetaStore holds the small list-valued keys and the data version.
type MetaStore struct {
	kv *KV
	mu sync.Mutex
}

// NewMetaStore creates a new meta store
func NewMetaStore(kv *KV) *MetaStore {
	return &MetaStore{kv: kv}
}

// Version returns the data version, empty when unset.
func (s *MetaStore) Version() (string, error) {
	var v string
	_, err := s.kv.Get(KeyVersion, &v)
	return v, err
}

// SetVersion records the data version.
func (s *MetaStore) SetVersion(v string) error {
	return s.kv.Set(KeyVersion, v)
}

// List returns one of the list keys (customTags, projects, activityTypes).
func (s *MetaStore) List(key string) ([]string, error) {
	var items []string
	if _, err := s.kv.Get(key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Add appends item to a list key if absent and reports whether it was added.
func (s *MetaStore) Add(key, item string) (bool, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.List(key)
	if err != nil {
		return false, err
	}
	for _, existing := range items {
		if existing == item {
			return false, nil
		}
	}
	return true, s.kv.Set(key, append(items, item))
}

// Projects returns the known project names.
func (s *MetaStore) Projects() ([]string, error) { return s.List(KeyProjects) }

// AddProject records a project name.
func (s *MetaStore) AddProject(name string) (bool, error) { return s.Add(KeyProjects, name) }
