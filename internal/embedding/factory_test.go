package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	e, err := New(ctx, config.EmbeddingConfig{Provider: config.ProviderHash, Dimensions: 64, CacheSize: 10}, config.CacheConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimensions())
	assert.IsType(t, &CachedEmbedder{}, e)

	_, err = New(ctx, config.EmbeddingConfig{Provider: "word2vec"}, config.CacheConfig{}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.EmbeddingConfig{Provider: config.ProviderGenAI}, config.CacheConfig{}, nil)
	assert.Error(t, err, "genai requires an api key")
}

func TestNew_unreachableRedisFallsBack(t *testing.T) {
	e, err := New(context.Background(),
		config.EmbeddingConfig{Provider: config.ProviderHash, Dimensions: 8, CacheSize: 10},
		config.CacheConfig{RedisAddr: "127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.NoError(t, err)
}
