package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/quantumlife/worktrail/internal/logging"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onLoad  func(*Config)
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching path and calls fn with each successfully parsed
// version. The containing directory is watched so editors that replace the
// file atomically are still seen.
func Watch(path string, fn func(*Config), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		path:    filepath.Clean(path),
		onLoad:  fn,
		logger:  logger.Component("config"),
		done:    make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				// Keep the previous config until the file parses again.
				w.logger.Warn("config reload failed: %v", err)
				continue
			}
			w.logger.Info("config reloaded from %s", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error: %v", err)
		}
	}
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
