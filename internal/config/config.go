// Package config loads the runner's YAML configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/breath"
	"github.com/talgya/interval/internal/crystal"
	"github.com/talgya/interval/internal/engine"
	"github.com/talgya/interval/internal/moment"
	"github.com/talgya/interval/internal/persistence"
	"github.com/talgya/interval/internal/poetry"
)

// Config holds all runner configuration.
type Config struct {
	Seed     int64         `yaml:"seed"` // 0 draws from crypto/rand
	Engine   EngineConfig  `yaml:"engine"`
	Timing   TimingConfig  `yaml:"timing"`
	Crystals CrystalConfig `yaml:"crystals"`
	Poetry   PoetryConfig  `yaml:"poetry"`
	Audio    AudioConfig   `yaml:"audio"`
	Journal  JournalConfig `yaml:"journal"`
	Ambient  AmbientConfig `yaml:"ambient"`
	API      APIConfig     `yaml:"api"`
	Logging  LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the tick loop.
type EngineConfig struct {
	Tick  string  `yaml:"tick"`  // base interval, e.g. "50ms"
	Speed float64 `yaml:"speed"` // 1.0 = real time, 0 = paused
}

// TimingConfig holds stage cadences as duration strings.
type TimingConfig struct {
	Biometrics   string `yaml:"biometrics"`
	Metrics      string `yaml:"metrics"`
	Classify     string `yaml:"classify"`
	Breath       string `yaml:"breath"`
	Moment       string `yaml:"moment"`
	Ambient      string `yaml:"ambient"`
	CrystalMin   string `yaml:"crystal_min"`
	CrystalMax   string `yaml:"crystal_max"`
	PoetryMin    string `yaml:"poetry_min"`
	PoetryMax    string `yaml:"poetry_max"`
	JournalFlush string `yaml:"journal_flush"`
	Summary      string `yaml:"summary"` // periodic status log
}

// CrystalConfig tunes crystal formation.
type CrystalConfig struct {
	Capacity   int     `yaml:"capacity"`
	Threshold  float64 `yaml:"threshold"`
	Acceptance float64 `yaml:"acceptance"`
}

// PoetryConfig points at an alternative fragment file.
type PoetryConfig struct {
	Fragments string `yaml:"fragments"` // empty uses the built-in pools
}

// AudioConfig configures the optional sound output.
type AudioConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"` // log, none
}

// JournalConfig configures the session journal.
type JournalConfig struct {
	Path string `yaml:"path"` // ":memory:" keeps nothing on disk
}

// AmbientConfig selects the ambient environment preset.
type AmbientConfig struct {
	Environment string `yaml:"environment"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Listen   string `yaml:"listen"` // e.g. "127.0.0.1:8420"; empty disables
	AdminKey string `yaml:"-"`      // INTERVAL_ADMIN_KEY only
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Audio devices.
const (
	DeviceLog  = "log"
	DeviceNone = "none"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Tick:  "50ms",
			Speed: 1.0,
		},
		Timing: TimingConfig{
			Biometrics:   "3s",
			Metrics:      "2s",
			Classify:     "3s",
			Breath:       "50ms",
			Moment:       "5s",
			Ambient:      "1s",
			CrystalMin:   "5s",
			CrystalMax:   "15s",
			PoetryMin:    "8s",
			PoetryMax:    "12s",
			JournalFlush: "30s",
			Summary:      "1m",
		},
		Crystals: CrystalConfig{
			Capacity:   crystal.DefaultCapacity,
			Threshold:  crystal.DefaultThreshold,
			Acceptance: crystal.DefaultAcceptance,
		},
		Audio: AudioConfig{
			Enabled: false,
			Device:  DeviceLog,
		},
		Journal: JournalConfig{
			Path: persistence.Memory,
		},
		Ambient: AmbientConfig{
			Environment: ambient.DefaultEnvironment,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if s := os.Getenv("INTERVAL_SEED"); s != "" {
		if seed, err := strconv.ParseInt(s, 10, 64); err == nil {
			c.Seed = seed
		}
	}
	if level := os.Getenv("INTERVAL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("INTERVAL_JOURNAL"); path != "" {
		c.Journal.Path = path
	}
	if env := os.Getenv("INTERVAL_ENVIRONMENT"); env != "" {
		c.Ambient.Environment = env
	}
	if addr := os.Getenv("INTERVAL_API_LISTEN"); addr != "" {
		c.API.Listen = addr
	}
	c.API.AdminKey = os.Getenv("INTERVAL_ADMIN_KEY")
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetTick returns the engine base interval.
func (c *Config) GetTick() time.Duration {
	return duration(c.Engine.Tick, engine.DefaultInterval)
}

// GetTiming returns the fixed stage cadences.
func (c *Config) GetTiming() engine.Timing {
	return engine.Timing{
		Biometrics: duration(c.Timing.Biometrics, biometrics.TickPeriod),
		Metrics:    duration(c.Timing.Metrics, attention.MetricsPeriod),
		Classify:   duration(c.Timing.Classify, attention.ClassifyPeriod),
		Breath:     duration(c.Timing.Breath, breath.TickPeriod),
		Moment:     duration(c.Timing.Moment, moment.Period),
		Ambient:    duration(c.Timing.Ambient, time.Second),
	}
}

// GetJournalFlush returns how often the journal is flushed.
func (c *Config) GetJournalFlush() time.Duration {
	return duration(c.Timing.JournalFlush, 30*time.Second)
}

// GetSummary returns how often a status line is logged.
func (c *Config) GetSummary() time.Duration {
	return duration(c.Timing.Summary, time.Minute)
}

// GetCrystalConfig returns the crystal gate.
func (c *Config) GetCrystalConfig() crystal.Config {
	return crystal.Config{
		Capacity:    c.Crystals.Capacity,
		Threshold:   c.Crystals.Threshold,
		Acceptance:  c.Crystals.Acceptance,
		MinInterval: duration(c.Timing.CrystalMin, crystal.MinInterval),
		MaxInterval: duration(c.Timing.CrystalMax, crystal.MaxInterval),
	}
}

// GetPoetryConfig returns the poetry config, loading the fragment file if set.
func (c *Config) GetPoetryConfig() (poetry.Config, error) {
	cfg := poetry.Config{
		MinInterval: duration(c.Timing.PoetryMin, poetry.MinInterval),
		MaxInterval: duration(c.Timing.PoetryMax, poetry.MaxInterval),
	}
	if c.Poetry.Fragments == "" {
		cfg.Pools = poetry.DefaultPools()
		return cfg, nil
	}
	pools, err := poetry.LoadPools(c.Poetry.Fragments)
	if err != nil {
		return poetry.Config{}, err
	}
	cfg.Pools = pools
	return cfg, nil
}

// SlogLevel maps the configured level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogHandler builds the configured slog handler writing to w.
func (c *Config) NewLogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ValidLogLevels lists accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.Speed < 0 {
		return fmt.Errorf("engine speed must not be negative: %v", c.Engine.Speed)
	}
	if c.Crystals.Capacity <= 0 {
		return fmt.Errorf("crystal capacity must be positive: %d", c.Crystals.Capacity)
	}
	if c.Crystals.Threshold < 0 || c.Crystals.Threshold > 1 {
		return fmt.Errorf("crystal threshold out of range [0,1]: %v", c.Crystals.Threshold)
	}
	if c.Crystals.Acceptance < 0 || c.Crystals.Acceptance > 1 {
		return fmt.Errorf("crystal acceptance out of range [0,1]: %v", c.Crystals.Acceptance)
	}

	cc := c.GetCrystalConfig()
	if cc.MinInterval > cc.MaxInterval {
		return fmt.Errorf("crystal window inverted: %s > %s", cc.MinInterval, cc.MaxInterval)
	}
	pmin := duration(c.Timing.PoetryMin, poetry.MinInterval)
	pmax := duration(c.Timing.PoetryMax, poetry.MaxInterval)
	if pmin > pmax {
		return fmt.Errorf("poetry window inverted: %s > %s", pmin, pmax)
	}

	if _, ok := ambient.Environments[c.Ambient.Environment]; !ok {
		return fmt.Errorf("%w: %q (valid: %v)", ambient.ErrUnknownEnvironment, c.Ambient.Environment, ambient.EnvironmentKeys())
	}

	if c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			return fmt.Errorf("invalid api listen address %q: %w", c.API.Listen, err)
		}
	}

	switch c.Audio.Device {
	case DeviceLog, DeviceNone:
	default:
		return fmt.Errorf("invalid audio device: %s (valid: %s, %s)", c.Audio.Device, DeviceLog, DeviceNone)
	}

	if !slices.Contains(ValidLogLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}
