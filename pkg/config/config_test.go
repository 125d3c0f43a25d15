package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirWithConfig writes config.yaml into a temp dir and makes it the working directory.
func chdirWithConfig(t *testing.T, yamlContent string) {
	t.Helper()
	tmpDir := t.TempDir()
	if yamlContent != "" {
		err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644)
		require.NoError(t, err)
	}

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	chdirWithConfig(t, `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
ranking:
  suggestion_weight: 2.5
`)

	os.Unsetenv("PGHOST")
	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RANKING_HEALTH_WEIGHT", "12")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "4443", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 2.5, cfg.Ranking.SuggestionWeight)
	assert.Equal(t, 12.0, cfg.Ranking.HealthWeight)
}

func TestLoad_Defaults(t *testing.T) {
	chdirWithConfig(t, `
env: "test"
database:
  host: "localhost"
`)
	for _, key := range []string{
		"SEARCH_PAGE_SIZE", "RANKING_SUGGESTION_WEIGHT", "RANKING_HEALTH_WEIGHT",
		"RANKING_HEALTH_BOOST_THRESHOLD", "ARTIFACTS_TTL", "ARTIFACTS_GENERATION_TIMEOUT",
		"HEALTH_MIN_SCORE", "HEALTH_MAX_FAILED_CELLS", "REDIS_HOST",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load("v")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Search.PageSize)
	assert.Equal(t, 5.0, cfg.Ranking.SuggestionWeight)
	assert.Equal(t, 10.0, cfg.Ranking.HealthWeight)
	assert.Equal(t, 0.5, cfg.Ranking.HealthBoostThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Artifacts.TTL)
	assert.Equal(t, 30*time.Second, cfg.Artifacts.GenerationTimeout)
	assert.Equal(t, 0.75, cfg.Health.MinScore)
	assert.Equal(t, int64(2), cfg.Health.MaxFailedCells)
	assert.Equal(t, 4, cfg.Fingerprint.FuzzyThreshold)
	assert.Equal(t, "", cfg.Redis.Addr())
}

func TestLoad_MissingConfigFile(t *testing.T) {
	chdirWithConfig(t, "")

	_, err := Load("test-version")
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	chdirWithConfig(t, `
env: "test"
search:
  page_size: -5
`)
	os.Unsetenv("SEARCH_PAGE_SIZE")

	_, err := Load("v")
	assert.ErrorContains(t, err, "page_size")
}

func TestLoad_RejectsThresholdOutOfRange(t *testing.T) {
	chdirWithConfig(t, `
env: "test"
`)
	t.Setenv("RANKING_HEALTH_BOOST_THRESHOLD", "1.5")

	_, err := Load("v")
	assert.ErrorContains(t, err, "health_boost_threshold")
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db.internal", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db.internal:5433/d?sslmode=require", c.ConnectionString())
}

func TestRedisConfig_Addr(t *testing.T) {
	c := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", c.Addr())
}
