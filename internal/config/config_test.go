package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/crystal"
	"github.com/talgya/interval/internal/engine"
	"github.com/talgya/interval/internal/poetry"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, engine.DefaultTiming(), cfg.GetTiming())
	assert.Equal(t, engine.DefaultInterval, cfg.GetTick())
	assert.Equal(t, crystal.DefaultConfig(), cfg.GetCrystalConfig())
	assert.Equal(t, 30*time.Second, cfg.GetJournalFlush())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interval.yaml")
	yaml := "seed: 7\ncrystals:\n  capacity: 4\ntiming:\n  poetry_min: 2s\n  poetry_max: 3s\nambient:\n  environment: forest\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 4, cfg.Crystals.Capacity)
	assert.Equal(t, crystal.DefaultThreshold, cfg.Crystals.Threshold, "unset keys keep defaults")
	assert.Equal(t, "forest", cfg.Ambient.Environment)

	pc, err := cfg.GetPoetryConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, pc.MinInterval)
	assert.Equal(t, 3*time.Second, pc.MaxInterval)
	assert.NotEmpty(t, pc.Pools[poetry.NeutralPool])
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: [unclosed"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "interval.yaml")
	cfg := DefaultConfig()
	cfg.Seed = 99
	cfg.Audio.Enabled = true
	cfg.API.Listen = "127.0.0.1:8420"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "admin", "the admin key never reaches disk")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("all variables", func(t *testing.T) {
		t.Setenv("INTERVAL_SEED", "1234")
		t.Setenv("INTERVAL_LOG_LEVEL", "debug")
		t.Setenv("INTERVAL_JOURNAL", "/tmp/session.db")
		t.Setenv("INTERVAL_ENVIRONMENT", "ember")
		t.Setenv("INTERVAL_API_LISTEN", "127.0.0.1:9000")
		t.Setenv("INTERVAL_ADMIN_KEY", "k")

		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, int64(1234), cfg.Seed)
		assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
		assert.Equal(t, "/tmp/session.db", cfg.Journal.Path)
		assert.Equal(t, "ember", cfg.Ambient.Environment)
		assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
		assert.Equal(t, "k", cfg.API.AdminKey)
	})

	t.Run("invalid seed is ignored", func(t *testing.T) {
		t.Setenv("INTERVAL_SEED", "not-a-number")
		cfg := &Config{Seed: 5}
		cfg.applyEnvOverrides()
		assert.Equal(t, int64(5), cfg.Seed)
	})
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Tick = "soon"
	cfg.Timing.Breath = "-1s"
	cfg.Timing.CrystalMin = ""

	assert.Equal(t, engine.DefaultInterval, cfg.GetTick())
	assert.Equal(t, 50*time.Millisecond, cfg.GetTiming().Breath)
	assert.Equal(t, crystal.MinInterval, cfg.GetCrystalConfig().MinInterval)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"negative speed":      func(c *Config) { c.Engine.Speed = -1 },
		"zero capacity":       func(c *Config) { c.Crystals.Capacity = 0 },
		"threshold too high":  func(c *Config) { c.Crystals.Threshold = 1.5 },
		"acceptance negative": func(c *Config) { c.Crystals.Acceptance = -0.1 },
		"crystal window":      func(c *Config) { c.Timing.CrystalMin, c.Timing.CrystalMax = "20s", "10s" },
		"poetry window":       func(c *Config) { c.Timing.PoetryMin, c.Timing.PoetryMax = "20s", "10s" },
		"unknown environment": func(c *Config) { c.Ambient.Environment = "lunar" },
		"audio device":        func(c *Config) { c.Audio.Device = "alsa" },
		"log level":           func(c *Config) { c.Logging.Level = "verbose" },
		"log format":          func(c *Config) { c.Logging.Format = "xml" },
		"api listen":          func(c *Config) { c.API.Listen = "8420" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Ambient.Environment = "lunar"
	assert.ErrorIs(t, cfg.Validate(), ambient.ErrUnknownEnvironment)
}

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	slog.New(cfg.NewLogHandler(&buf)).Info("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	cfg.Logging.Format = "text"
	cfg.Logging.Level = "warn"
	logger := slog.New(cfg.NewLogHandler(&buf))
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestGetPoetryConfigMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poetry.Fragments = filepath.Join(t.TempDir(), "none.yaml")
	_, err := cfg.GetPoetryConfig()
	require.Error(t, err)
}
