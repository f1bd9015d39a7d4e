package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "catalog:version"
	bumpChannel     = "catalog.bump"
)

// Cache wraps redis with versioned keys so the whole catalog cache can be
// invalidated with a single version bump. A nil cache or nil client degrades
// to loader-only behavior.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds a cache around the given redis client. Entries expire
// after ttl; a zero ttl keeps them until the next version bump evicts them.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache generation, initializing it to 1 when
// missing or corrupted.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	val, err := c.client.Get(ctx, cacheVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(val, 10, 64)
	if err != nil || version <= 0 {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return version, nil
}

// BuildKey joins the key parts and appends the current cache version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	version, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return joined + ":" + strconv.FormatInt(version, 10), nil
}

// FetchJSON returns the cached value under key, or invokes loader, stores the
// result, and decodes it into dest.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("loader is required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return json.Unmarshal([]byte(cached), dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump advances the cache version and notifies subscribers. Keys built
// against older versions become unreachable and age out via TTL.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, "bump").Err()
}

// ListenForInvalidation logs bump notifications until ctx is done. Keys are
// version-prefixed, so there is nothing to evict here; the log line exists so
// operators can correlate warmups with invalidations.
func (c *Cache) ListenForInvalidation(ctx context.Context, logger *slog.Logger) {
	if c == nil || c.client == nil {
		return
	}
	sub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if logger != nil {
					logger.Info("catalog cache invalidated", "channel", msg.Channel)
				}
			}
		}
	}()
}

func sigToken(sig string) string {
	if sig == "" {
		return "all"
	}
	return sig
}

func keyMetadata() string {
	return strings.Join([]string{"catalog", "metadata"}, ":")
}

func keyRecords(sig string) string {
	return strings.Join([]string{"catalog", "records", sigToken(sig)}, ":")
}

func keyHistogram(sig string) string {
	return strings.Join([]string{"catalog", "histogram", sigToken(sig)}, ":")
}

func keyBoxplot(sig string) string {
	return strings.Join([]string{"catalog", "boxplot", sigToken(sig)}, ":")
}

func keyAnomalies(sig string) string {
	return strings.Join([]string{"catalog", "anomalies", sigToken(sig)}, ":")
}

func keyClusters(sig string) string {
	return strings.Join([]string{"catalog", "clusters", sigToken(sig)}, ":")
}

func keySummary(sig string) string {
	return strings.Join([]string{"catalog", "summary", sigToken(sig)}, ":")
}
