// Package config handles WorkTrail daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Environment overrides.
const (
	EnvDevMode = "WORKTRAIL_DEV"
	EnvDataDir = "WORKTRAIL_DATA_DIR"
)

// FileName is the config file name inside the data dir.
const FileName = "config.json"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Ingress
	Ingress IngressConfig `json:"ingress"`

	// Ambient
	Log   LogConfig   `json:"log"`
	Store StoreConfig `json:"store"`

	// Engine
	Tracker TrackerConfig `json:"tracker"`

	// DevMode is only set from the environment.
	DevMode bool `json:"-"`
}

// IngressConfig for the loopback HTTP server
type IngressConfig struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	FatalOnPortCollision bool   `json:"fatal_on_port_collision"`
}

// Addr returns host:port.
func (c IngressConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// LogConfig for the daemon logger
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// StoreConfig for the persistent store
type StoreConfig struct {
	CacheTTL      Duration `json:"cache_ttl"`
	MaxActivities int      `json:"max_activities"`
	DedupSize     int      `json:"dedup_size"`
	Encrypt       bool     `json:"encrypt"`
}

// TrackerConfig holds engine tunables. Defaults match the documented cadence.
type TrackerConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	IdleInterval        Duration `json:"idle_interval"`
	AutosaveInterval    Duration `json:"autosave_interval"`
	ProbeRetries        int      `json:"probe_retries"`
	ProbeBackoff        Duration `json:"probe_backoff"`
	StopTimeout         Duration `json:"stop_timeout"`
	IdleGateTimeout     Duration `json:"idle_gate_timeout"`
	CollaboratorTimeout Duration `json:"collaborator_timeout"`
}

// Duration is a time.Duration that reads and writes as "5s" style strings.
type Duration time.Duration

// Std returns the time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		parsed, err := time.ParseDuration(unq)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", unq, err)
		}
		*d = Duration(parsed)
		return nil
	}
	// Bare numbers are seconds.
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", s, err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".worktrail"),
		Ingress: IngressConfig{
			Host: "127.0.0.1",
			Port: 41417,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			CacheTTL:      Duration(5 * time.Second),
			MaxActivities: 10000,
			DedupSize:     50,
			Encrypt:       true,
		},
		Tracker: TrackerConfig{
			InitialInterval:     Duration(5 * time.Second),
			MaxInterval:         Duration(60 * time.Second),
			IdleInterval:        Duration(10 * time.Second),
			AutosaveInterval:    Duration(5 * time.Minute),
			ProbeRetries:        3,
			ProbeBackoff:        Duration(100 * time.Millisecond),
			StopTimeout:         Duration(5 * time.Second),
			IdleGateTimeout:     Duration(2 * time.Second),
			CollaboratorTimeout: Duration(30 * time.Second),
		},
	}
}

// Path returns the config file path for a data dir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path == "" {
		path = Path(cfg.DataDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := sonic.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Environment wins over the file.
	cfg.applyEnv()
	cfg.normalize()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
	c.DevMode = isTruthy(os.Getenv(EnvDevMode))
	if c.DevMode {
		c.Store.Encrypt = false
	}
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	d := Default()
	if c.Ingress.Host == "" {
		c.Ingress.Host = d.Ingress.Host
	}
	if c.Ingress.Port <= 0 || c.Ingress.Port > 65535 {
		c.Ingress.Port = d.Ingress.Port
	}
	if c.Store.CacheTTL <= 0 {
		c.Store.CacheTTL = d.Store.CacheTTL
	}
	if c.Store.MaxActivities <= 0 {
		c.Store.MaxActivities = d.Store.MaxActivities
	}
	if c.Store.DedupSize <= 0 {
		c.Store.DedupSize = d.Store.DedupSize
	}
	t, dt := &c.Tracker, d.Tracker
	fix := func(v *Duration, def Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fix(&t.InitialInterval, dt.InitialInterval)
	fix(&t.MaxInterval, dt.MaxInterval)
	fix(&t.IdleInterval, dt.IdleInterval)
	fix(&t.AutosaveInterval, dt.AutosaveInterval)
	fix(&t.ProbeBackoff, dt.ProbeBackoff)
	fix(&t.StopTimeout, dt.StopTimeout)
	fix(&t.IdleGateTimeout, dt.IdleGateTimeout)
	fix(&t.CollaboratorTimeout, dt.CollaboratorTimeout)
	if t.MaxInterval < t.InitialInterval {
		t.MaxInterval = t.InitialInterval
	}
	if t.ProbeRetries <= 0 {
		t.ProbeRetries = dt.ProbeRetries
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path(c.DataDir)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
