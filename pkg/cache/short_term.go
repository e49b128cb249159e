// Package cache implements the short-term plan cache (C8): a Redis-backed
// store with an in-memory fallback when Redis is unset or unreachable, key
// the SHA-256 of the normalized natural-language query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/apperrors"
	"github.com/safequery-inc/safequery-gateway/pkg/models"
)

const (
	// DefaultTTL matches the gateway's out-of-the-box cache retention.
	DefaultTTL = 1800 * time.Second
	// DefaultMaxSizeBytes is the serialized-entry size ceiling above which
	// a set() is skipped — still reported as a success.
	DefaultMaxSizeBytes = 1 << 20 // 1 MiB
	keyPrefix           = "sqlcache:"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeQuery lowercases and collapses whitespace so that trivially
// different phrasings of the same question share a cache key.
func NormalizeQuery(query string) string {
	return whitespacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), " ")
}

// Key returns the SHA-256 hex digest of the normalized query.
func Key(query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// Stats tracks cache activity for observability.
type Stats struct {
	Hits   int64
	Misses int64
	Sets   int64
	Errors int64
}

// HitRate returns the fraction of lookups that were hits.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ShortTermCache is the C8 component. Redis errors never propagate: they
// are logged, counted, and treated as a miss on get() or a no-op success
// on set().
type ShortTermCache struct {
	redis         *redis.Client
	logger        *zap.Logger
	ttl           time.Duration
	maxSizeBytes  int

	mu    sync.Mutex
	stats Stats

	// fallback is used when redis is nil (not configured).
	fallback map[string]cachedEntry
}

type cachedEntry struct {
	entry      models.CacheEntry
	expiresAt  time.Time
}

// Option configures a ShortTermCache.
type Option func(*ShortTermCache)

// WithTTL overrides the default entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *ShortTermCache) { c.ttl = ttl }
}

// WithMaxSizeBytes overrides the default serialized-entry size ceiling.
func WithMaxSizeBytes(max int) Option {
	return func(c *ShortTermCache) { c.maxSizeBytes = max }
}

// New builds a ShortTermCache. client may be nil, in which case the cache
// runs entirely in-memory — the graceful degradation path the gateway
// takes when Redis is absent or fails to connect at startup.
func New(client *redis.Client, logger *zap.Logger, opts ...Option) *ShortTermCache {
	c := &ShortTermCache{
		redis:        client,
		logger:       logger.Named("cache.short_term"),
		ttl:          DefaultTTL,
		maxSizeBytes: DefaultMaxSizeBytes,
		fallback:     make(map[string]cachedEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up the cached plan for query. A miss (not found, expired, or
// any backing-store error) returns (zero, false) — errors are
// logged and folded into a miss, never surfaced to the caller.
func (c *ShortTermCache) Get(ctx context.Context, query string) (models.Plan, bool) {
	key := Key(query)

	if c.redis == nil {
		return c.getFallback(key)
	}

	raw, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		c.recordMiss()
		return models.Plan{}, false
	}
	if err != nil {
		c.logger.Warn("cache get failed, treating as miss", zap.Error(err))
		c.recordError()
		return models.Plan{}, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", zap.Error(err))
		c.recordError()
		return models.Plan{}, false
	}

	c.recordHit()
	return entry.Plan, true
}

func (c *ShortTermCache) getFallback(key string) (models.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.fallback[key]
	if !ok || time.Now().After(entry.expiresAt) {
		c.stats.Misses++
		return models.Plan{}, false
	}
	c.stats.Hits++
	return entry.entry.Plan, true
}

// Set stores plan under query's key, skipping (but still reporting
// success) if the serialized entry exceeds the size ceiling. Only plans
// from a successful validation should ever be passed here — the caller
// is responsible for never caching an error.
func (c *ShortTermCache) Set(ctx context.Context, query string, plan models.Plan) error {
	key := Key(query)
	entry := models.CacheEntry{Plan: plan, StoredAt: time.Now().UTC()}

	raw, err := json.Marshal(entry)
	if err != nil {
		c.recordError()
		return apperrors.NewCacheError("failed to serialize cache entry", nil, err)
	}

	if len(raw) > c.maxSizeBytes {
		c.logger.Debug("cache entry exceeds size ceiling, skipping set",
			zap.Int("size_bytes", len(raw)), zap.Int("max_bytes", c.maxSizeBytes))
		return nil
	}

	if c.redis == nil {
		c.mu.Lock()
		c.fallback[key] = cachedEntry{entry: entry, expiresAt: time.Now().Add(c.ttl)}
		c.stats.Sets++
		c.mu.Unlock()
		return nil
	}

	if err := c.redis.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
		c.recordError()
		return nil // cache errors are never fatal to the request
	}

	c.recordSet()
	return nil
}

func (c *ShortTermCache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *ShortTermCache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *ShortTermCache) recordSet() {
	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
}

func (c *ShortTermCache) recordError() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}

// Stats returns a snapshot of cache activity.
func (c *ShortTermCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
