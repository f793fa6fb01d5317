package config

import "time"

// Supported backends and providers.
const (
	DatabaseMySQL    = "mysql"
	DatabasePostgres = "postgresql"

	ProviderOllama = "ollama"
	ProviderGenAI  = "genai"
	ProviderHash   = "hash"
	ProviderONNX   = "onnx"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOllama
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "deepseek-r1:32b"
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == ProviderOllama {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHash
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "bge-large-zh"
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOllama {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}

	if cfg.Knowledge.DatabasePath == "" {
		cfg.Knowledge.DatabasePath = "./data/knowledge.db"
	}
	if cfg.Knowledge.BlevePath == "" {
		cfg.Knowledge.BlevePath = "./data/bleve"
	}
	if cfg.Knowledge.Collection == "" {
		cfg.Knowledge.Collection = "text2sql_knowledge"
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = DatabaseMySQL
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		if cfg.Database.Type == DatabasePostgres {
			cfg.Database.Port = 5432
		} else {
			cfg.Database.Port = 3306
		}
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "root"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "target_db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 3
	}
	if cfg.Pipeline.ScoreThreshold == 0 {
		cfg.Pipeline.ScoreThreshold = 0.5
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.SQLTimeout == 0 {
		cfg.Pipeline.SQLTimeout = 30 * time.Second
	}
	if cfg.Pipeline.SchemaBudget == 0 {
		cfg.Pipeline.SchemaBudget = 16000
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
}
