// Package cache is a Redis-backed cache for search results, keyed by a
// normalized query fingerprint. Concurrent misses for the same key are
// collapsed through singleflight so an expensive embed-and-retrieve pipeline
// runs once per distinct query. Entries are invalidated wholesale after every
// ingest: the index only grows, so any cached ranking may be stale the moment
// a document lands.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/lexigraph/lexrag/internal/rag/retriever"
	"github.com/lexigraph/lexrag/pkg/config"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/metrics"
	pkgredis "github.com/lexigraph/lexrag/pkg/redis"
)

const keyPrefix = "search:"

// SearchCache caches retrieval results in Redis.
type SearchCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a SearchCache. m may be nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *SearchCache {
	return &SearchCache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("search-cache"),
	}
}

// Get returns the cached candidates for the query, if present. Redis errors
// count as misses; the cache never fails a search.
func (c *SearchCache) Get(ctx context.Context, query string, topK int, weight float64) ([]retriever.Candidate, bool) {
	key := c.buildKey(query, topK, weight)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var candidates []retriever.Candidate
	if err := json.Unmarshal([]byte(data), &candidates); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "query", query, "key", key)
	return candidates, true
}

// Set stores candidates under the query fingerprint with the configured TTL.
func (c *SearchCache) Set(ctx context.Context, query string, topK int, weight float64, candidates []retriever.Candidate) {
	key := c.buildKey(query, topK, weight)
	data, err := json.Marshal(candidates)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns cached candidates or computes, caches, and returns
// them. Concurrent callers with the same key share a single computation. The
// second return value reports whether the result was served from cache.
func (c *SearchCache) GetOrCompute(
	ctx context.Context,
	query string,
	topK int,
	weight float64,
	computeFn func() ([]retriever.Candidate, error),
) ([]retriever.Candidate, bool, error) {
	if candidates, ok := c.Get(ctx, query, topK, weight); ok {
		return candidates, true, nil
	}
	key := c.buildKey(query, topK, weight)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if candidates, ok := c.Get(ctx, query, topK, weight); ok {
			return candidates, nil
		}
		candidates, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, topK, weight, candidates)
		return candidates, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]retriever.Candidate), false, nil
}

// Invalidate drops every cached search result. Called after ingest, since new
// chunks can change any ranking.
func (c *SearchCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("search cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since process start.
func (c *SearchCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *SearchCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *SearchCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey fingerprints the normalized query plus its retrieval parameters.
// Queries differing only in whitespace or case share an entry.
func (c *SearchCache) buildKey(query string, topK int, weight float64) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	raw := fmt.Sprintf("%s:k=%d:w=%.3f", normalized, topK, weight)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
