// Package config provides configuration loading and structs for the text2sql service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/text2sql/internal/models"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. TEXT2SQL_DATABASE_HOST.
const EnvPrefix = "TEXT2SQL_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" env:"DEBUG"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	LLM       LLMConfig       `yaml:"llm" envPrefix:"LLM_"`
	Embedding EmbeddingConfig `yaml:"embedding" envPrefix:"EMBEDDING_"`
	Knowledge KnowledgeConfig `yaml:"knowledge" envPrefix:"KNOWLEDGE_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Watch     WatchConfig     `yaml:"watch" envPrefix:"WATCH_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// LLMConfig selects and configures the SQL generation backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	Model       string        `yaml:"model" env:"MODEL"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig selects and configures the embedder used by the knowledge store.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"PROVIDER"`
	Model      string `yaml:"model" env:"MODEL"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
	ModelPath  string `yaml:"model_path" env:"MODEL_PATH"`
	MaxTokens  int    `yaml:"max_tokens" env:"MAX_TOKENS"`
	CacheSize  int    `yaml:"cache_size" env:"CACHE_SIZE"`
}

// KnowledgeConfig holds paths for the knowledge store.
type KnowledgeConfig struct {
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`
	BlevePath    string `yaml:"bleve_path" env:"BLEVE_PATH"`
	Collection   string `yaml:"collection" env:"COLLECTION"`
}

// DatabaseConfig holds connection settings for the target database.
type DatabaseConfig struct {
	Type            string        `yaml:"type" env:"TYPE"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// PipelineConfig holds retrieval and correction-loop settings.
type PipelineConfig struct {
	TopK           int           `yaml:"top_k" env:"TOP_K"`
	ScoreThreshold float64       `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	Hybrid         *bool         `yaml:"hybrid"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	SQLTimeout     time.Duration `yaml:"sql_timeout" env:"SQL_TIMEOUT"`
	// SchemaBudget is the rendered schema size in bytes above which the
	// prompt lists only each table's relevant columns.
	SchemaBudget int `yaml:"schema_budget" env:"SCHEMA_BUDGET"`
}

// HybridOrDefault returns whether hybrid retrieval is enabled; defaults to true when unset.
func (p *PipelineConfig) HybridOrDefault() bool {
	if p.Hybrid != nil {
		return *p.Hybrid
	}
	return true
}

// WatchConfig holds hot-reload settings for the metadata and business-rules files.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	MetadataFile string        `yaml:"metadata_file" env:"METADATA_FILE"`
	RulesFile    string        `yaml:"rules_file" env:"RULES_FILE"`
	Debounce     time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// CacheConfig configures the optional redis tier of the embedding cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// Load reads and parses the config file at path, applies environment overrides,
// fills defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// FromEnv builds a config from defaults and environment variables only.
// Relative paths are resolved against the working directory.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg.expandPaths(wd)
	return &cfg, nil
}

// Default returns a config with every default applied and no filesystem or environment access.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Knowledge.DatabasePath = expandPath(c.Knowledge.DatabasePath, configDir)
	c.Knowledge.BlevePath = expandPath(c.Knowledge.BlevePath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	if c.Watch.MetadataFile != "" {
		c.Watch.MetadataFile = expandPath(c.Watch.MetadataFile, configDir)
	}
	if c.Watch.RulesFile != "" {
		c.Watch.RulesFile = expandPath(c.Watch.RulesFile, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks enumerated settings and numeric ranges.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseMySQL, DatabasePostgres:
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderGenAI:
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case ProviderHash, ProviderOllama, ProviderGenAI, ProviderONNX:
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if c.Pipeline.ScoreThreshold < 0 || c.Pipeline.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be within [0, 1], got %v", c.Pipeline.ScoreThreshold)
	}
	if c.Pipeline.MaxAttempts < 0 || c.Pipeline.MaxAttempts > models.MaxCorrectionsLimit {
		return fmt.Errorf("max_attempts must be between 0 and %d, got %d", models.MaxCorrectionsLimit, c.Pipeline.MaxAttempts)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" is the home directory; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
