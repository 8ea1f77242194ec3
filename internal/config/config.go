// Package config loads engine and storage settings from viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tallyfin/tallyfin/internal/engine"
)

// Viper keys and their defaults.
const (
	keyDatabasePath   = "database.path"
	keyMinConfidence  = "engine.min_confidence"
	keyAutoThreshold  = "engine.auto_threshold"
	keyMaxResults     = "engine.max_results"
	keyCacheSize      = "engine.cache_size"
	keyScorerCache    = "engine.scorer_cache_size"
	keyBreakerFails   = "engine.breaker.failure_threshold"
	keyBreakerTimeout = "engine.breaker.timeout"
	keyBasicMetrics   = "engine.basic_metrics"
)

// SetDefaults registers configuration defaults with viper.
func SetDefaults() {
	defaults := engine.DefaultConfig()

	viper.SetDefault(keyMinConfidence, defaults.MinConfidence)
	viper.SetDefault(keyAutoThreshold, defaults.AutoCategorizeThreshold)
	viper.SetDefault(keyMaxResults, defaults.MaxResults)
	viper.SetDefault(keyCacheSize, defaults.CacheSize)
	viper.SetDefault(keyScorerCache, defaults.ScorerCacheSize)
	viper.SetDefault(keyBreakerFails, int(defaults.FailureThreshold))
	viper.SetDefault(keyBreakerTimeout, defaults.BreakerTimeout)
	viper.SetDefault(keyBasicMetrics, defaults.BasicScorerMetrics)
}

// EngineConfig builds the engine configuration from viper settings.
func EngineConfig() engine.Config {
	return engine.Config{
		MinConfidence:           viper.GetFloat64(keyMinConfidence),
		AutoCategorizeThreshold: viper.GetFloat64(keyAutoThreshold),
		MaxResults:              viper.GetInt(keyMaxResults),
		CacheSize:               viper.GetInt(keyCacheSize),
		ScorerCacheSize:         viper.GetInt(keyScorerCache),
		FailureThreshold:        int32(viper.GetInt(keyBreakerFails)),
		BreakerTimeout:          viper.GetDuration(keyBreakerTimeout),
		BasicScorerMetrics:      viper.GetBool(keyBasicMetrics),
	}
}

// DatabasePath resolves the SQLite database location, defaulting to the
// user's data directory.
func DatabasePath() (string, error) {
	if path := viper.GetString(keyDatabasePath); path != "" {
		return expandPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tallyfin", "tallyfin.db"), nil
}

// expandPath handles ~ prefix expansion.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
