package storage

import (
	"sync"

	"github.com/quantumlife/worktrail/internal/core"
)

// SettingsStore persists the user tracking settings and keeps the last
// loaded copy in memory for hot paths.
type SettingsStore struct {
	kv *KV

	mu      sync.RWMutex
	current core.Settings
	loaded  bool
}

// NewSettingsStore creates a new settings store
func NewSettingsStore(kv *KV) *SettingsStore {
	return &SettingsStore{kv: kv, current: core.DefaultSettings()}
}

// Load reads settings from the store, falling back to defaults for a
// missing or unreadable value. Missing fields take default values.
func (s *SettingsStore) Load() (core.Settings, error) {
	settings := core.DefaultSettings()
	_, err := s.kv.Get(KeySettings, &settings)
	if err != nil {
		settings = core.DefaultSettings()
	}
	settings = settings.Normalize()

	s.mu.Lock()
	s.current = settings
	s.loaded = true
	s.mu.Unlock()
	return settings, err
}

// Current returns the cached settings, loading them on first use.
func (s *SettingsStore) Current() core.Settings {
	s.mu.RLock()
	cur, loaded := s.current, s.loaded
	s.mu.RUnlock()
	if loaded {
		return cur
	}
	cur, _ = s.Load()
	return cur
}

// Save normalizes and persists settings.
func (s *SettingsStore) Save(settings core.Settings) (core.Settings, error) {
	settings = settings.Normalize()
	if err := s.kv.Set(KeySettings, settings); err != nil {
		return s.Current(), err
	}
	s.mu.Lock()
	s.current = settings
	s.loaded = true
	s.mu.Unlock()
	return settings, nil
}
