// WorkTrail Daemon - tracks where your working time goes
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumlife/worktrail/internal/api"
	"github.com/quantumlife/worktrail/internal/config"
	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/identity"
	"github.com/quantumlife/worktrail/internal/logging"
	"github.com/quantumlife/worktrail/internal/notifications"
	"github.com/quantumlife/worktrail/internal/platform"
	"github.com/quantumlife/worktrail/internal/storage"
	"github.com/quantumlife/worktrail/internal/tracker"
)

// UpgradeMarker is dropped next to the binary by installers.
const UpgradeMarker = "upgrade-marker"

const shutdownTimeout = 5 * time.Second

var (
	dataDir string
	port    int
	devMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "worktraild",
		Short:         "WorkTrail Daemon - automatic time tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.worktrail)")
	rootCmd.Flags().IntVar(&port, "port", 0, "ingress port (default 41417)")
	rootCmd.Flags().BoolVar(&devMode, "dev", false, "development mode: no encryption at rest, token only to extensions")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "worktraild:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	path := ""
	if dataDir != "" {
		path = config.Path(dataDir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Ingress.Port = port
	}
	if devMode {
		cfg.DevMode = true
		cfg.Store.Encrypt = false
	}
	return cfg, config.Path(cfg.DataDir), nil
}

func setupLogger(cfg *config.Config) (*logging.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.Log.File != "" {
		path := cfg.Log.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.DataDir, path)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	logger := logging.New(logging.Options{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.Format(cfg.Log.Format),
		Output: out,
	})
	logging.SetDefault(logger)
	return logger, closer, nil
}

func openStore(cfg *config.Config, logger *logging.Logger) (*storage.Store, error) {
	var sealer storage.Sealer
	if cfg.Store.Encrypt {
		cipher, err := identity.NewManager(cfg.DataDir, nil, logger).Cipher()
		if err != nil {
			return nil, fmt.Errorf("data key: %w", err)
		}
		sealer = cipher
	} else {
		logger.Warn("encryption at rest is disabled")
	}

	return storage.OpenStore(storage.Options{
		Dir:           cfg.DataDir,
		Sealer:        sealer,
		CacheTTL:      cfg.Store.CacheTTL.Std(),
		MaxActivities: cfg.Store.MaxActivities,
		Logger:        logger,
	})
}

// consumeUpgradeMarker removes the installer's marker and reports the
// version it names.
func consumeUpgradeMarker(logger *logging.Logger) {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	path := filepath.Join(filepath.Dir(exe), UpgradeMarker)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	from := strings.TrimSpace(string(data))
	if from == "" {
		from = "an earlier version"
	}
	logger.Info("upgraded from %s to %s", from, core.Version)
	if err := os.Remove(path); err != nil {
		logger.Warn("could not remove %s: %v", path, err)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("data directory %s: %w", cfg.DataDir, err)
	}

	logger, logFile, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("starting WorkTrail %s (data: %s)", core.Version, cfg.DataDir)
	consumeUpgradeMarker(logger)

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	events := notifications.NewService()
	tc := cfg.Tracker
	tr, err := tracker.New(tracker.Config{
		Probe:               platform.NewCommandProbe(tc.CollaboratorTimeout.Std()),
		Clock:               platform.NewSystemClock(nil),
		Publisher:           events,
		Logger:              logger,
		InitialInterval:     tc.InitialInterval.Std(),
		MaxInterval:         tc.MaxInterval.Std(),
		IdleInterval:        tc.IdleInterval.Std(),
		AutosaveInterval:    tc.AutosaveInterval.Std(),
		StopTimeout:         tc.StopTimeout.Std(),
		IdleGateTimeout:     tc.IdleGateTimeout.Std(),
		CollaboratorTimeout: tc.CollaboratorTimeout.Std(),
		Retry:               platform.RetryConfig{Attempts: tc.ProbeRetries, Backoff: tc.ProbeBackoff.Std()},
		DedupSize:           cfg.Store.DedupSize,
	}.FromStore(store))
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}

	server, err := api.New(api.Config{
		Host:    cfg.Ingress.Host,
		Port:    cfg.Ingress.Port,
		DevMode: cfg.DevMode,
		Engine:  tr,
		Events:  events,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	ingress := true
	if err := server.Start(); err != nil {
		if cfg.Ingress.FatalOnPortCollision {
			return err
		}
		logger.Warn("browser ingress disabled: %v", err)
		ingress = false
	}

	if _, err := tr.Start(); err != nil {
		if ingress {
			stopServer(server, logger)
		}
		return fmt.Errorf("start tracker: %w", err)
	}

	watcher, err := config.Watch(cfgPath, func(next *config.Config) {
		logger.SetLevel(logging.ParseLevel(next.Log.Level))
		tr.Tune(next.Tracker.InitialInterval.Std(), next.Tracker.MaxInterval.Std())
	}, logger)
	if err != nil {
		logger.Warn("config hot reload unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if ingress {
		stopServer(server, logger)
	}
	if _, err := tr.Stop(); err != nil && !errors.Is(err, core.ErrTrackerStopped) {
		logger.Error("final save failed: %v", err)
	}
	return nil
}

func stopServer(server *api.Server, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("ingress shutdown: %v", err)
	}
}
