package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores provider OAuth access tokens until shortly before they expire
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

// tokenExpirySkew is subtracted from the provider-stated lifetime so a token is never used at the edge of expiry
const tokenExpirySkew = time.Minute

// RedisTokenCache shares tokens between service instances
type RedisTokenCache struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenCache creates a redis-backed token cache
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client, prefix: "tikiti:token:"}
}

// Get returns a cached token. Redis errors are treated as a miss.
func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("Token cache read failed for %s: %v", key, err)
		}
		return "", false
	}
	return token, true
}

// Set stores a token for ttl
func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, token, ttl).Err(); err != nil {
		log.Printf("Token cache write failed for %s: %v", key, err)
	}
}

type memoryToken struct {
	token     string
	expiresAt time.Time
}

// MemoryTokenCache keeps tokens in process
type MemoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    Clock
}

// NewMemoryTokenCache creates an in-process token cache
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{tokens: make(map[string]memoryToken), now: time.Now}
}

// Get returns a cached token that has not expired
func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	if !ok || !c.now().Before(t.expiresAt) {
		delete(c.tokens, key)
		return "", false
	}
	return t.token, true
}

// Set stores a token for ttl
func (c *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = memoryToken{token: token, expiresAt: c.now().Add(ttl)}
}

// cachedToken returns the cached token for key, or fetches and caches a new one.
// fetch returns the token and its lifetime as stated by the provider.
func cachedToken(ctx context.Context, cache TokenCache, key string, fetch func(ctx context.Context) (string, time.Duration, error)) (string, error) {
	if cache != nil {
		if token, ok := cache.Get(ctx, key); ok {
			return token, nil
		}
	}
	token, lifetime, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("empty access token for %s", key)
	}
	if ttl := lifetime - tokenExpirySkew; cache != nil && ttl > 0 {
		cache.Set(ctx, key, token, ttl)
	}
	return token, nil
}
