package encoder

// cache.go - Embedding cache in front of the frozen encoder
//
// Base-model embeddings are deterministic for a given (model, text) pair, so
// repeated experiment runs over the same corpus can skip the forward pass
// entirely. Redis is used when configured (shared across runs and hosts),
// with an in-process TTL cache as fallback.

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long cached embeddings live in redis.
const DefaultCacheTTL = 24 * time.Hour

// Cache stores embeddings keyed by (model, text).
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, embedding []float32)
}

// CacheKey derives the cache key for a (model, text) pair.
func CacheKey(modelName, text string) string {
	sum := sha256.Sum256([]byte(modelName + "|" + text))
	return "phishtune:emb:" + hex.EncodeToString(sum[:])
}

// RedisCache stores embeddings in redis as little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(addr string, ttl time.Duration) (*RedisCache, error) {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", addr, err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get fetches a cached embedding. Misses and transport errors both report
// a miss; the caller recomputes either way.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	emb, err := decodeEmbedding(data)
	if err != nil {
		return nil, false
	}
	return emb, true
}

// Put stores an embedding with the configured TTL. Write errors are logged,
// not returned: the cache is an optimization, never a correctness dependency.
func (c *RedisCache) Put(ctx context.Context, key string, embedding []float32) {
	if err := c.client.Set(ctx, key, encodeEmbedding(embedding), c.ttl).Err(); err != nil {
		log.Printf("[encoder] Cache write failed: %v", err)
	}
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is the in-process fallback when redis is not configured.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates an in-process TTL cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{cache: gocache.New(ttl, 10*time.Minute)}
}

// Get fetches a cached embedding.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	val, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	emb, ok := val.([]float32)
	return emb, ok
}

// Put stores an embedding.
func (c *MemoryCache) Put(_ context.Context, key string, embedding []float32) {
	c.cache.Set(key, embedding, gocache.DefaultExpiration)
}

// CachedProvider wraps a Provider with an embedding cache.
type CachedProvider struct {
	inner     Provider
	cache     Cache
	modelName string
}

// NewCachedProvider wraps inner with cache. modelName participates in the
// cache key so switching base models never serves stale vectors.
func NewCachedProvider(inner Provider, cache Cache, modelName string) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, modelName: modelName}
}

// Dimension returns the wrapped provider's dimension.
func (p *CachedProvider) Dimension() int {
	return p.inner.Dimension()
}

// Embed returns the cached embedding or computes and caches it.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch serves hits from the cache and forwards only misses to the
// wrapped provider, preserving input order.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missTexts := make([]string, 0)
	missIdx := make([]int, 0)

	for i, text := range texts {
		if emb, ok := p.cache.Get(ctx, CacheKey(p.modelName, text)); ok {
			out[i] = emb
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		computed, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, emb := range computed {
			i := missIdx[j]
			out[i] = emb
			p.cache.Put(ctx, CacheKey(p.modelName, texts[i]), emb)
		}
	}

	return out, nil
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding blob: %d bytes", len(data))
	}
	emb := make([]float32, len(data)/4)
	for i := range emb {
		emb[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return emb, nil
}
