package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
)

// DBFile is the database file name inside the data dir.
const DBFile = "worktrail.db"

// Options configure OpenStore.
type Options struct {
	Dir      string
	InMemory bool
	Sealer   Sealer // nil disables encryption at rest
	CacheTTL time.Duration
	// MaxActivities caps stored records above whatever the settings allow.
	MaxActivities int
	Logger        *logging.Logger
}

// Store bundles the typed stores over one database.
type Store struct {
	db     *DB
	KV     *KV
	logger *logging.Logger

	Activities *ActivityStore
	Settings   *SettingsStore
	Focus      *FocusStore
	Mappings   *MappingStore
	Meta       *MetaStore

	// Quarantined is the path a corrupt file was moved to during open.
	Quarantined string
}

// OpenStore opens the store, quarantining a corrupt database file and
// starting fresh in its place.
func OpenStore(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("storage")

	cfg := Config{InMemory: opts.InMemory}
	if !opts.InMemory {
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: data dir: %w", core.ErrStore, err)
		}
		cfg.Path = filepath.Join(opts.Dir, DBFile)
	}

	db, kv, err := openChecked(cfg, opts.Sealer)
	var quarantined string
	if err != nil {
		if opts.InMemory || !isCorruption(err) {
			return nil, err
		}
		quarantined, err = quarantineFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: quarantine: %w", core.ErrStore, err)
		}
		logger.Error("store corrupted, moved to %s; starting fresh", quarantined)
		db, kv, err = openChecked(cfg, opts.Sealer)
		if err != nil {
			return nil, err
		}
	}

	settings := NewSettingsStore(kv)
	if _, err := settings.Load(); err != nil {
		logger.Warn("settings unreadable, using defaults: %v", err)
	}

	s := &Store{
		db:          db,
		KV:          kv,
		logger:      logger,
		Activities:  NewActivityStore(kv, settings, opts.CacheTTL, logger),
		Settings:    settings,
		Focus:       NewFocusStore(kv),
		Mappings:    NewMappingStore(kv),
		Meta:        NewMetaStore(kv),
		Quarantined: quarantined,
	}

	s.Activities.SetCeiling(opts.MaxActivities)

	if v, err := s.Meta.Version(); err == nil && v != core.Version {
		if err := s.Meta.SetVersion(core.Version); err != nil {
			logger.Warn("failed to record data version: %v", err)
		}
	}
	return s, nil
}

func openChecked(cfg Config, sealer Sealer) (*DB, *KV, error) {
	db, err := Open(cfg)
	if err != nil {
		// The directory is known to be usable, so an existing file that
		// will not open is damaged.
		if _, statErr := os.Stat(cfg.Path); !cfg.InMemory && statErr == nil {
			return nil, nil, fmt.Errorf("%w: open: %w", core.ErrCorrupt, err)
		}
		return nil, nil, fmt.Errorf("%w: open: %w", core.ErrStore, err)
	}
	if _, err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: migrate: %w", core.ErrCorrupt, err)
	}
	if err := db.Check(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: %w", core.ErrCorrupt, err)
	}
	kv := NewKV(db, sealer)
	if err := kv.Verify(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, kv, nil
}

func isCorruption(err error) bool {
	return errors.Is(err, core.ErrCorrupt)
}

// quarantineFile renames the database and its WAL side files.
func quarantineFile(path string) (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, aside); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(path+suffix, aside+suffix); err != nil && !os.IsNotExist(err) {
			return "", err
		}
	}
	return aside, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}
