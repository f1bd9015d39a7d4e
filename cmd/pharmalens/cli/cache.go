package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/jobs"
)

// CacheOpsCLI offers operational helpers for the catalog cache. Bumping the
// cache generation is the manual recovery path when the upstream dataset is
// replaced outside the nightly warmup window.
type CacheOpsCLI struct {
	client *redis.Client
	cache  *catalog.Cache
	jobs   *JobsCLI
}

// NewCacheOpsCLI constructs the helper wired to the provided Redis endpoint.
func NewCacheOpsCLI(redisAddr string) (*CacheOpsCLI, error) {
	jobsCLI, err := NewJobsCLI(redisAddr)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return &CacheOpsCLI{
		client: client,
		cache:  catalog.NewCache(client, 0),
		jobs:   jobsCLI,
	}, nil
}

// Close releases the underlying Redis resources.
func (c *CacheOpsCLI) Close() error {
	var err error
	if c.jobs != nil {
		if closeErr := c.jobs.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// CacheInvalidateOptions defines available flags for the cache invalidate
// command.
type CacheInvalidateOptions struct {
	// Warmup also enqueues a catalog warmup run once the version is bumped.
	Warmup     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CacheInvalidateSummary describes the JSON response for cache invalidate.
type CacheInvalidateSummary struct {
	PreviousVersion int64 `json:"previous_version"`
	Version         int64 `json:"version"`
	WarmupQueued    bool  `json:"warmup_queued"`
}

// InvalidateCommand bumps the cache generation and prints the outcome.
func (c *CacheOpsCLI) InvalidateCommand(ctx context.Context, opts CacheInvalidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.cache == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "cache invalidate: cache not configured")
		return 1
	}
	previous, err := c.cache.Version(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cache invalidate: read version: %v\n", err)
		return 1
	}
	if err := c.cache.Bump(ctx); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cache invalidate: bump version: %v\n", err)
		return 1
	}
	version, err := c.cache.Version(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cache invalidate: read version: %v\n", err)
		return 1
	}

	summary := CacheInvalidateSummary{PreviousVersion: previous, Version: version}
	if opts.Warmup {
		if _, err := c.jobs.Trigger(ctx, jobs.TaskCatalogWarmup); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "cache invalidate: enqueue warmup: %v\n", err)
			return 1
		}
		summary.WarmupQueued = true
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "cache invalidate: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Cache version bumped %d -> %d\n", summary.PreviousVersion, summary.Version)
	if summary.WarmupQueued {
		_, _ = fmt.Fprintln(opts.Stdout, "Warmup job queued.")
	}
	return 0
}

// CacheStatusOptions defines available flags for the cache status command.
type CacheStatusOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CacheStatusSummary describes the JSON response for cache status.
type CacheStatusSummary struct {
	Version int64 `json:"version"`
	Keys    int64 `json:"keys"`
}

// StatusCommand reports the current cache generation and key count.
func (c *CacheOpsCLI) StatusCommand(ctx context.Context, opts CacheStatusOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.cache == nil || c.client == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "cache status: cache not configured")
		return 1
	}
	version, err := c.cache.Version(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cache status: read version: %v\n", err)
		return 1
	}
	keys, err := c.client.DBSize(ctx).Result()
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "cache status: count keys: %v\n", err)
		return 1
	}
	summary := CacheStatusSummary{Version: version, Keys: keys}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "cache status: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Cache version %d, %d key(s)\n", summary.Version, summary.Keys)
	return 0
}
