package embedding

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/text2sql/pkg/utils"
)

// CachedEmbedder wraps an Embedder with an in-process LRU and an optional
// shared redis tier. Redis failures degrade to a miss. Concurrent misses for
// the same text share one upstream call.
type CachedEmbedder struct {
	inner  Embedder
	local  *LocalCache
	remote *RedisCache
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner. remote may be nil.
func NewCachedEmbedder(inner Embedder, local *LocalCache, remote *RedisCache, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, local: local, remote: remote, logger: utils.OrNop(logger)}
}

// Embed returns the embedding for text, consulting the local then the remote cache.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.local.Get(text); ok {
		return v, nil
	}
	if e.remote != nil {
		v, ok, err := e.remote.Get(ctx, text)
		if err != nil {
			e.logger.Warn("embedding cache read failed", zap.Error(err))
		} else if ok {
			e.local.Put(text, v)
			return v, nil
		}
	}

	v, err, shared := e.group.Do(text, func() (interface{}, error) {
		v, err := e.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		e.local.Put(text, v)
		if e.remote != nil {
			if err := e.remote.Set(ctx, text, v); err != nil {
				e.logger.Warn("embedding cache write failed", zap.Error(err))
			}
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		return append([]float32(nil), v.([]float32)...), nil
	}
	return v.([]float32), nil
}

// CacheStats reports the local tier's counters.
func (e *CachedEmbedder) CacheStats() CacheStats {
	return e.local.Stats()
}

// EmbedBatch calls Embed for each text.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the wrapped embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the redis tier and the wrapped embedder.
func (e *CachedEmbedder) Close() error {
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			e.logger.Warn("failed to close embedding cache", zap.Error(err))
		}
	}
	return e.inner.Close()
}
