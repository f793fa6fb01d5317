package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c := NewRedisCache(mr.Addr(), "", 0, "hash:test", time.Minute)
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "users")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []float32{0.25, -1.5, 3}
	require.NoError(t, c.Set(ctx, "users", want))

	got, ok, err := c.Get(ctx, "users")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "users")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after the TTL")
}

func TestRedisCache_CorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c := NewRedisCache(mr.Addr(), "", 0, "m", time.Minute)
	defer c.Close()

	require.NoError(t, mr.Set(c.key("x"), "abc"))
	_, _, err := c.Get(ctx, "x")
	assert.Error(t, err)
}
