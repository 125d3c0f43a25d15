package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// Config holds all configuration for ekaya-gallery.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional; when unset, artifact regeneration is only
	// deduplicated within this process.
	Redis RedisConfig `yaml:"redis"`

	Search      SearchConfig        `yaml:"search"`
	Ranking     RankingConfig       `yaml:"ranking"`
	Health      models.HealthPolicy `yaml:"health"`
	Artifacts   ArtifactsConfig     `yaml:"artifacts"`
	Fingerprint FingerprintConfig   `yaml:"fingerprint"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_gallery"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SearchConfig configures the full-text index and pagination.
type SearchConfig struct {
	IndexPath string `yaml:"index_path" env:"SEARCH_INDEX_PATH" env-default:"data/search.db"`
	PageSize  int    `yaml:"page_size" env:"SEARCH_PAGE_SIZE" env-default:"20"`
}

// RankingConfig holds the weights used to blend ranking signals into the
// full-text relevance score.
type RankingConfig struct {
	SuggestionWeight     float64 `yaml:"suggestion_weight" env:"RANKING_SUGGESTION_WEIGHT" env-default:"5.0"`
	HealthWeight         float64 `yaml:"health_weight" env:"RANKING_HEALTH_WEIGHT" env-default:"10.0"`
	HealthBoostThreshold float64 `yaml:"health_boost_threshold" env:"RANKING_HEALTH_BOOST_THRESHOLD" env-default:"0.5"`
}

// ArtifactsConfig configures the derived artifact (word cloud) cache.
type ArtifactsConfig struct {
	Dir               string        `yaml:"dir" env:"ARTIFACTS_DIR" env-default:"data/wordclouds"`
	TTL               time.Duration `yaml:"ttl" env:"ARTIFACTS_TTL" env-default:"168h"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"ARTIFACTS_GENERATION_TIMEOUT" env-default:"30s"`
	// LeaseTTL bounds how long a Redis regeneration lease survives a crashed holder.
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"ARTIFACTS_LEASE_TTL" env-default:"2m"`
}

// FingerprintConfig configures near-duplicate detection.
type FingerprintConfig struct {
	// FuzzyThreshold is the largest fuzzy digest distance still considered a near duplicate.
	FuzzyThreshold int `yaml:"fuzzy_threshold" env:"FINGERPRINT_FUZZY_THRESHOLD" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects values that would make ranking or caching misbehave.
func (c *Config) validate() error {
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.page_size must be positive, got %d", c.Search.PageSize)
	}
	if c.Ranking.SuggestionWeight < 0 || c.Ranking.HealthWeight < 0 {
		return fmt.Errorf("ranking weights must not be negative")
	}
	if c.Ranking.HealthBoostThreshold < 0 || c.Ranking.HealthBoostThreshold > 1 {
		return fmt.Errorf("ranking.health_boost_threshold must be within [0,1], got %v", c.Ranking.HealthBoostThreshold)
	}
	if c.Artifacts.TTL <= 0 {
		return fmt.Errorf("artifacts.ttl must be positive")
	}
	if c.Artifacts.GenerationTimeout <= 0 {
		return fmt.Errorf("artifacts.generation_timeout must be positive")
	}
	if c.Fingerprint.FuzzyThreshold < 0 {
		return fmt.Errorf("fingerprint.fuzzy_threshold must not be negative")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, resolveHost(c.Host), c.Port, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis address, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", resolveHost(c.Host), c.Port)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHost maps loopback hosts to the Docker host gateway when running
// inside a container, so a local config.yaml works unchanged in Docker.
func resolveHost(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
