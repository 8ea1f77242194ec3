package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyfin/tallyfin/internal/engine"
)

func TestEngineConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	got := EngineConfig()
	want := engine.DefaultConfig()

	assert.InDelta(t, want.MinConfidence, got.MinConfidence, 1e-9)
	assert.InDelta(t, want.AutoCategorizeThreshold, got.AutoCategorizeThreshold, 1e-9)
	assert.Equal(t, want.MaxResults, got.MaxResults)
	assert.Equal(t, want.CacheSize, got.CacheSize)
	assert.Equal(t, want.ScorerCacheSize, got.ScorerCacheSize)
	assert.Equal(t, want.FailureThreshold, got.FailureThreshold)
	assert.Equal(t, want.BreakerTimeout, got.BreakerTimeout)
	assert.False(t, got.BasicScorerMetrics)
	assert.NoError(t, got.Validate())
}

func TestEngineConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("engine.min_confidence", 0.65)
	viper.Set("engine.max_results", 10)
	viper.Set("engine.breaker.failure_threshold", 8)
	viper.Set("engine.breaker.timeout", "45s")
	viper.Set("engine.basic_metrics", true)

	got := EngineConfig()
	assert.InDelta(t, 0.65, got.MinConfidence, 1e-9)
	assert.Equal(t, 10, got.MaxResults)
	assert.Equal(t, int32(8), got.FailureThreshold)
	assert.Equal(t, 45*time.Second, got.BreakerTimeout)
	assert.True(t, got.BasicScorerMetrics)
}

func TestDatabasePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("defaults to the data directory", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)

		path, err := DatabasePath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".local", "share", "tallyfin", "tallyfin.db"), path)
	})

	t.Run("expands a tilde prefix", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		viper.Set("database.path", "~/finances/tallyfin.db")

		path, err := DatabasePath()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "finances", "tallyfin.db"), path)
	})

	t.Run("explicit path passes through", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		viper.Set("database.path", "/tmp/tallyfin-test.db")

		path, err := DatabasePath()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/tallyfin-test.db", path)
	})
}
