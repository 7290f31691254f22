package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/interval/internal/config"
	"github.com/talgya/interval/internal/persistence"
)

func TestInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interval.yaml")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestEnvironmentsLists(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"environments"})
	require.NoError(t, cmd.Execute())
	for _, key := range []string{"cosmic", "oceanic", "forest", "crystal", "ember"} {
		assert.Contains(t, out.String(), key)
	}
}

func TestRunForDuration(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "session.db")
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--seed", "3",
		"--duration", "40s",
		"--speed", "2000",
		"--audio",
		"--journal", journal,
	})
	require.NoError(t, cmd.Execute())

	j, err := persistence.Open(journal)
	require.NoError(t, err)
	defer j.Close()

	n, err := j.CountEvents("")
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	tick, err := j.GetMeta("last_tick")
	require.NoError(t, err)
	assert.Equal(t, "800", tick)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		"--environment", "lunar",
	})
	require.Error(t, cmd.Execute())
}

func TestRunServesAPI(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--seed", "3",
		"--duration", "5s",
		"--speed", "1000",
		"--listen", "127.0.0.1:0",
	})
	require.NoError(t, cmd.Execute())
}

func TestRunRejectsBadListenAddress(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		"--listen", "nowhere",
	})
	require.Error(t, cmd.Execute())
}
