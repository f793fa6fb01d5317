package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, c.Embed)
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedder_LocalOnly(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, NewLocalCache(10), nil, nil)
	ctx := context.Background()

	_, err := e.Embed(ctx, "users")
	require.NoError(t, err)
	_, err = e.Embed(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 2, e.Dimensions())
}

type gatedEmbedder struct {
	countingEmbedder
	gate chan struct{}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-g.gate
	return g.countingEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_ConcurrentMissesShareCall(t *testing.T) {
	inner := &gatedEmbedder{gate: make(chan struct{})}
	e := NewCachedEmbedder(inner, NewLocalCache(10), nil, nil)

	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := e.Embed(context.Background(), "orders")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	for _, v := range results {
		assert.Equal(t, []float32{6, 1}, v)
	}
	assert.Equal(t, 1, e.CacheStats().Entries)
}

func TestCachedEmbedder_RemoteTier(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first := &countingEmbedder{}
	e1 := NewCachedEmbedder(first, NewLocalCache(10), NewRedisCache(mr.Addr(), "", 0, "m", time.Hour), nil)
	defer e1.Close()
	_, err := e1.Embed(ctx, "orders")
	require.NoError(t, err)

	// A second process with a cold local cache reads from redis.
	second := &countingEmbedder{}
	e2 := NewCachedEmbedder(second, NewLocalCache(10), NewRedisCache(mr.Addr(), "", 0, "m", time.Hour), nil)
	defer e2.Close()
	v, err := e2.Embed(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 1}, v)
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestCachedEmbedder_RemoteDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	remote := NewRedisCache(mr.Addr(), "", 0, "m", time.Hour)
	mr.Close()

	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, NewLocalCache(10), remote, nil)
	v, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err, "redis failures degrade to a miss")
	assert.Equal(t, []float32{3, 1}, v)
}

func TestCachedEmbedder_InnerError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("model unavailable")}
	e := NewCachedEmbedder(inner, NewLocalCache(10), nil, nil)
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}
