package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, time.Hour, cfg.ReconnectInterval())
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
}

func TestLoadConfig_MissingExplicitFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aprilaire.yaml")
	content := []byte("host: 192.168.1.60\nport: 8000\nrequest_timeout_seconds: 2\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.60", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout())
	// Untouched keys keep their defaults.
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout())
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aprilaire.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [broken"), 0o644))

	_, err := LoadConfig(path, true)
	assert.Error(t, err)
}
