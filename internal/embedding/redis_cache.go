package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a shared embedding cache. Values are little-endian float32 arrays.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to addr and namespaces keys by model.
func NewRedisCache(addr, password string, db int, model string, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisCache{client: rdb, prefix: "text2sql:emb:" + model + ":", ttl: ttl}
}

// Ping tests the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisCache) key(text string) string {
	sum := sha1.Sum([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text. A miss is not an error.
func (c *RedisCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.key(text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, false, fmt.Errorf("corrupt cached embedding of %d bytes", len(data))
	}
	return bytesToFloat32s(data), true, nil
}

// Set stores the embedding for text with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, text string, value []float32) error {
	if err := c.client.Set(ctx, c.key(text), float32sToBytes(value), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func float32sToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
