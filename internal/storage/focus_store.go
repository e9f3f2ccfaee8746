package storage

import (
	"sort"
	"sync"

	"github.com/quantumlife/worktrail/internal/core"
)

// FocusStore handles focus session persistence
type FocusStore struct {
	kv *KV
	mu sync.Mutex
}

// NewFocusStore creates a new focus store
func NewFocusStore(kv *KV) *FocusStore {
	return &FocusStore{kv: kv}
}

func (s *FocusStore) load() ([]core.FocusSession, error) {
	var sessions []core.FocusSession
	if _, err := s.kv.Get(KeyFocusSessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Append writes a finished session.
func (s *FocusStore) Append(session core.FocusSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}
	sessions = append(sessions, session)
	return s.kv.Set(KeyFocusSessions, sessions)
}

// List returns sessions dated on or after from, oldest first. An empty
// from returns everything.
func (s *FocusStore) List(from core.Date) ([]core.FocusSession, error) {
	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]core.FocusSession, 0, len(sessions))
	for _, fs := range sessions {
		if from == "" || fs.Date >= from {
			out = append(out, fs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Prune removes sessions dated before cutoff and returns how many it removed.
func (s *FocusStore) Prune(cutoff core.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return 0, err
	}
	kept := sessions[:0:0]
	for _, fs := range sessions {
		if fs.Date >= cutoff {
			kept = append(kept, fs)
		}
	}
	removed := len(sessions) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.kv.Set(KeyFocusSessions, kept)
}
