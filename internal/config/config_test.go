package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "buildings", cfg.Dataset.Table)
	assert.Equal(t, 8008, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "tile_cache", cfg.Tiles.CacheDir)
	assert.Equal(t, 20, cfg.Tiles.Concurrency)
	assert.Len(t, cfg.Overpass.Endpoints, 2)
	assert.Contains(t, cfg.Tiles.URLTemplate, "{z}")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOUSECOUNT_SERVER_PORT", "9001")
	t.Setenv("HOUSECOUNT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	assert.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "console"}))
}
