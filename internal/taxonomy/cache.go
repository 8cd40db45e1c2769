package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"termhub/api/internal/store"
)

// DefaultTTLSeconds is the process-wide tree cache window. Entries are
// never invalidated on mutation; they age out.
const DefaultTTLSeconds = 3600

// CacheKey derives the tree cache key for one taxonomy.
func CacheKey(taxonomyID string) string {
	return "models.project." + taxonomyID
}

// Cache is the string cache collaborator backing materialized trees.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache implements Cache on a shared Redis client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// TermSource is the slice of the term store the materializer needs.
type TermSource interface {
	GetTaxonomy(ctx context.Context, taxonomyID string) (store.Taxonomy, error)
	ListTerms(ctx context.Context, taxonomyID string) ([]store.Term, error)
	FindGrandchildCandidates(ctx context.Context, taxonomyID string, parentID *string) ([]store.TermRef, error)
	FindLeafLabels(ctx context.Context, taxonomyID string, parentID *string, excludeIDs []string) ([]string, error)
}

// Service serves materialized trees through the cache and builds export
// snapshots directly against the store.
type Service struct {
	source TermSource
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
}

func NewService(source TermSource, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTLSeconds * time.Second
	}
	return &Service{source: source, cache: cache, ttl: ttl}
}

// Tree returns the materialized tree for one taxonomy. A cache hit is
// returned as-is without touching the store. On a miss the tree is built
// from a single term query, written back with the fixed TTL, and returned;
// concurrent misses for the same taxonomy share one build. A cache backend
// failure fails the read — there is no fallback to a direct build.
func (s *Service) Tree(ctx context.Context, taxonomyID string) (*Node, error) {
	key := CacheKey(taxonomyID)
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("tree cache read: %w", err)
	}
	if ok {
		var node Node
		if err := json.Unmarshal([]byte(cached), &node); err != nil {
			return nil, fmt.Errorf("decode cached tree: %w", err)
		}
		return &node, nil
	}

	built, err, _ := s.group.Do(key, func() (any, error) {
		return s.build(ctx, taxonomyID, key)
	})
	if err != nil {
		return nil, err
	}
	return built.(*Node), nil
}

func (s *Service) build(ctx context.Context, taxonomyID, key string) (*Node, error) {
	taxonomy, err := s.source.GetTaxonomy(ctx, taxonomyID)
	if err != nil {
		return nil, err
	}
	terms, err := s.source.ListTerms(ctx, taxonomyID)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	node := BuildTree(taxonomy.Name, terms)
	encoded, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	if err := s.cache.Set(ctx, key, string(encoded), s.ttl); err != nil {
		return nil, fmt.Errorf("tree cache write: %w", err)
	}
	return node, nil
}
