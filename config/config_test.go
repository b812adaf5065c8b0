package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_config(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "papergw.toml")

	err := generateConfig(configFile)
	assert.NoError(t, err)

	cfg, err := Load(configFile, "0.0.0")
	assert.NoError(t, err)

	assert.Equal(t, "paper", cfg.ReservedTLD)
	assert.Equal(t, "/__gw/", cfg.GatewayPrefix)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL.Duration)
	assert.Equal(t, "0.0.0", cfg.ServerVersion())

	if assert.NotEmpty(t, cfg.Sources) {
		assert.Equal(t, "primary", cfg.Sources[0].ID)
		assert.Equal(t, 100, cfg.Sources[0].Priority)
		assert.True(t, cfg.Sources[0].Enabled)
	}
}

func Test_configDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "sparse.toml")

	err := os.WriteFile(configFile, []byte("version = \"1.0.0\"\n"), 0o600)
	assert.NoError(t, err)

	cfg, err := Load(configFile, "0.0.0")
	assert.NoError(t, err)

	assert.Equal(t, "paper", cfg.ReservedTLD)
	assert.Equal(t, 15*time.Second, cfg.BridgeTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.ActivationTimeout.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.AttemptDelay.Duration)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, 4096, cfg.CacheSize)
}

func Test_configError(t *testing.T) {
	const configFile = ""

	_, err := Load(configFile, "0.0.0")
	assert.Error(t, err)
}
