package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache errors
var (
	ErrCacheNotAvailable = errors.New("cache not available")
	ErrCacheNotFound     = errors.New("cache not found")

	errStaleGeneration = errors.New("cache generation moved")
)

// CacheConfig names one keyspace of the knowledge-base cache
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

var (
	GroupCacheConfig = CacheConfig{
		TTL:    5 * time.Minute,
		Prefix: "kb:group:",
	}

	// Membership decides visibility, so it expires quickly
	MembershipCacheConfig = CacheConfig{
		TTL:    2 * time.Minute,
		Prefix: "kb:membership:",
	}

	UserCacheConfig = CacheConfig{
		TTL:    15 * time.Minute,
		Prefix: "kb:user:",
	}
)

const scanBatch = 100

// CacheHelper reads and writes JSON values under one key prefix. It holds
// ids, flags and membership rows only. Decrypted article content is never
// cached.
//
// Every invalidation bumps a generation counter kept outside the prefix.
// CacheOrExecute only stores a loaded value if the counter did not move
// while it was loading, so a read racing a commit cannot put the old rows
// back after the commit invalidated them.
type CacheHelper struct {
	client *redis.Client
	prefix string
	genKey string
}

func NewCacheHelper(client *redis.Client, prefix string) *CacheHelper {
	return &CacheHelper{
		client: client,
		prefix: prefix,
		genKey: strings.TrimSuffix(prefix, ":") + ".gen",
	}
}

// Available reports whether a redis client is configured
func (c *CacheHelper) Available() bool {
	return c != nil && c.client != nil
}

func (c *CacheHelper) key(k string) string {
	return c.prefix + k
}

func (c *CacheHelper) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CacheHelper) bumpGeneration(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.genKey).Err(); err != nil {
		return fmt.Errorf("cache bump generation: %w", err)
	}
	return nil
}

// setIfGeneration writes raw only while the generation still equals seen
func (c *CacheHelper) setIfGeneration(ctx context.Context, key string, raw []byte, ttl time.Duration, seen int64) error {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != seen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(key), raw, ttl)
			return nil
		})
		return err
	}, c.genKey)
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		slog.DebugContext(ctx, "Cache invalidated during load, value not stored", "cache_key", key)
		return nil
	}
	return err
}

func (c *CacheHelper) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.Available() {
		return ErrCacheNotAvailable
	}
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheNotFound
	case err != nil:
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Set is a no-op without a client
func (c *CacheHelper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Available() {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *CacheHelper) Delete(ctx context.Context, keys ...string) error {
	if !c.Available() || len(keys) == 0 {
		return nil
	}
	if err := c.bumpGeneration(ctx); err != nil {
		return err
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	return c.client.Del(ctx, full...).Err()
}

// InvalidatePattern walks the keyspace with SCAN and unlinks matches in
// batches as they are found.
func (c *CacheHelper) InvalidatePattern(ctx context.Context, pattern string) error {
	if !c.Available() {
		return nil
	}
	if err := c.bumpGeneration(ctx); err != nil {
		return err
	}

	iter := c.client.Scan(ctx, 0, c.key(pattern), scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache unlink: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	return flush()
}

// CacheOrExecute serves key from the cache or loads it with fetch, stores
// the result and decodes it into dest. The value is not stored if the
// keyspace was invalidated while fetch ran.
func (c *CacheHelper) CacheOrExecute(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetch func() (interface{}, error)) error {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheNotFound) && !errors.Is(err, ErrCacheNotAvailable) {
		slog.WarnContext(ctx, "Cache read failed, loading from store", "error", err, "cache_key", key)
	}

	var (
		gen      int64
		storable = c.Available()
	)
	if storable {
		if gen, err = c.generation(ctx); err != nil {
			slog.WarnContext(ctx, "Cache generation unreadable, value not stored", "error", err, "cache_key", key)
			storable = false
		}
	}

	value, err := fetch()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if storable {
		if err := c.setIfGeneration(ctx, key, raw, ttl, gen); err != nil {
			slog.ErrorContext(ctx, "Cache write failed", "error", err, "cache_key", key)
		}
	}
	return json.Unmarshal(raw, dest)
}

// CacheManager groups the keyspaces used by the repositories. A nil client
// yields helpers that always miss.
type CacheManager struct {
	client     *redis.Client
	Group      *CacheHelper
	Membership *CacheHelper
	User       *CacheHelper
}

func NewCacheManager(client *redis.Client) *CacheManager {
	return &CacheManager{
		client:     client,
		Group:      NewCacheHelper(client, GroupCacheConfig.Prefix),
		Membership: NewCacheHelper(client, MembershipCacheConfig.Prefix),
		User:       NewCacheHelper(client, UserCacheConfig.Prefix),
	}
}

func (cm *CacheManager) HealthCheck(ctx context.Context) error {
	if cm.client == nil {
		return ErrCacheNotAvailable
	}
	if err := cm.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}
	return nil
}
