// Package testutil provides shared testing utilities for WorkTrail.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/storage"
)

// TestStore opens an in-memory, unencrypted store.
// The store is automatically closed when the test completes.
func TestStore(t *testing.T) *storage.Store {
	t.Helper()

	s, err := storage.OpenStore(storage.Options{InMemory: true, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// TestStoreWithSettings opens an in-memory store and saves settings into it.
func TestStoreWithSettings(t *testing.T, settings core.Settings) *storage.Store {
	t.Helper()

	s := TestStore(t)
	if _, err := s.Settings.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return s
}

// TestContext returns a context cancelled after 30s or when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
