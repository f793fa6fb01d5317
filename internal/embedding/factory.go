package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/config"
)

// New builds the configured embedder wrapped in the embedding cache.
// A redis tier is added when cacheCfg names an address and answers a ping.
func New(ctx context.Context, cfg config.EmbeddingConfig, cacheCfg config.CacheConfig, logger *zap.Logger) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case config.ProviderHash, "":
		inner = NewHashEmbedder(cfg.Dimensions)
	case config.ProviderOllama:
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case config.ProviderGenAI:
		e, err := NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = e
	case config.ProviderONNX:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	var remote *RedisCache
	if cacheCfg.RedisAddr != "" {
		remote = NewRedisCache(cacheCfg.RedisAddr, cacheCfg.RedisPassword, cacheCfg.RedisDB, cfg.Provider+":"+cfg.Model, cacheCfg.TTL)
		if err := remote.Ping(ctx); err != nil {
			if logger != nil {
				logger.Warn("redis embedding cache unavailable, using local cache only", zap.Error(err))
			}
			_ = remote.Close()
			remote = nil
		}
	}
	return NewCachedEmbedder(inner, NewLocalCache(cfg.CacheSize), remote, logger), nil
}
