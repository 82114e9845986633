// Package cache adapts the TTL cache + invalidation contract (§4.2) onto
// Redis. The document store remains the source of truth; everything here
// is advisory and may be stale for up to its TTL modulo explicit
// invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Default TTLs per key kind, per §4.2.
const (
	TTLDetail        = 3600 * time.Second
	TTLList          = 300 * time.Second
	TTLCrawlerResult = 86400 * time.Second
	TTLUser          = 1800 * time.Second
	TTLStats         = 600 * time.Second
)

// Cache wraps a Redis client with the key-prefix conventions and
// invalidation protocol the rest of the system expects.
type Cache struct {
	rdb *redis.Client
	log *logger.Logger
}

// New builds a Cache from configuration.
func New(cfg config.RedisConfig, log *logger.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries

	return &Cache{rdb: redis.NewClient(opts), log: log.WithComponent("cache")}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.rdb.Close() }

// Ping verifies connectivity to Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// envelope wraps every cached value with the write timestamp §4.2 requires.
type envelope struct {
	CachedAt time.Time       `json:"_cached_at"`
	Value    json.RawMessage `json:"value"`
}

// Key builders, one per kind named in §4.2.
func CVEDetailKey(cveID string) string     { return "cve_detail:" + cveID }
func CVEListKey(serialized string) string  { return "cve_list:" + serialized }
func CrawlerResultKey(crawlerID string) string { return "crawler_result:" + crawlerID }
func UserKey(userID string) string         { return "user:" + userID }
func StatsKey(name string) string          { return "stats:" + name }

// Set stores value (JSON-marshaled) under key with the given TTL. Cache
// errors are logged by the caller via the returned error; per §7 they must
// never abort the mutation they accompany.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	env := envelope{CachedAt: time.Now().UTC(), Value: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get fetches key and unmarshals its value into out. Returns (false, nil)
// on a cache miss.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, fmt.Errorf("unmarshal envelope for %s: %w", key, err)
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return false, fmt.Errorf("unmarshal value for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeletePattern scans for keys matching pattern and deletes them in
// pipelined batches, per §4.2's "may batch the list-scan deletion into a
// pipelined multi-delete."
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			pipe := c.rdb.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return deleted, fmt.Errorf("pipelined delete for %s: %w", pattern, err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// InvalidationResult reports what the CVE mutation invalidation touched,
// so the caller (the upsert engine) can shape the cache_invalidated push
// event's payload.
type InvalidationResult struct {
	InvalidatedDetail bool
	InvalidatedLists  bool
}

// InvalidateCVE implements the §4.2 protocol for a CVE mutation: delete
// cve_detail:<id>, any key matching cve_detail:*<id>*, and all cve_list:*
// keys. Failures are returned (not swallowed) so the caller can log them,
// but per §7 a failure here must never block the write that triggered it.
func (c *Cache) InvalidateCVE(ctx context.Context, cveID string) (InvalidationResult, error) {
	var result InvalidationResult

	if err := c.Delete(ctx, CVEDetailKey(cveID)); err != nil {
		return result, fmt.Errorf("invalidate detail: %w", err)
	}
	result.InvalidatedDetail = true

	if _, err := c.DeletePattern(ctx, "cve_detail:*"+cveID+"*"); err != nil {
		return result, fmt.Errorf("invalidate detail pattern: %w", err)
	}

	if _, err := c.DeletePattern(ctx, "cve_list:*"); err != nil {
		return result, fmt.Errorf("invalidate lists: %w", err)
	}
	result.InvalidatedLists = true

	return result, nil
}

// InvalidateCVEDetailOnly is used for comment add/update on CVE X, per
// §4.2: "delete only cve_detail:X."
func (c *Cache) InvalidateCVEDetailOnly(ctx context.Context, cveID string) error {
	return c.Delete(ctx, CVEDetailKey(cveID))
}
