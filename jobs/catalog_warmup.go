package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
	jobmetrics "github.com/pharmalens/pharmalens/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const warmQueryTimeout = 30 * time.Second

// CatalogWarmupJob fills the Redis cache with the queries a fresh dashboard
// issues, so first visits after a cold start or a dataset refresh hit warm
// entries. It reuses the dashboard's own query builders, which keeps the
// warmed cache keys identical to the ones live sessions compute.
type CatalogWarmupJob struct {
	Catalog *catalog.Service
	Cache   *catalog.Cache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCatalogWarmupJob wires dependencies for the warmup handler.
func NewCatalogWarmupJob(catalogSvc *catalog.Service, cache *catalog.Cache, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogWarmupJob {
	return &CatalogWarmupJob{
		Catalog: catalogSvc,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes catalog warmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	var payload CatalogWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("catalog warmup: decode payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskCatalogWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.Bool("invalidate", payload.Invalidate))
	logger.Info("starting catalog warmup")

	if payload.Invalidate {
		if j.Cache == nil {
			logger.Warn("invalidate requested without a cache, skipping bump")
		} else if err := j.Cache.Bump(ctx); err != nil {
			resultErr = err
			logger.Error("bump cache version", slog.Any("error", err))
			return resultErr
		}
	}

	meta, err := j.warmMetadata(ctx)
	if err != nil {
		resultErr = err
		logger.Error("warm metadata", slog.Any("error", err))
		return resultErr
	}

	state := dashboard.DefaultState(math.Ceil(meta.PriceRange.Max))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return j.warmBase(gctx, state)
	})
	for _, kind := range dashboard.AllViewKinds {
		if !dashboard.NeedsSecondary(kind) {
			continue
		}
		kind := kind
		g.Go(func() error {
			return j.warmSecondary(gctx, state, kind)
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("warm queries", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed catalog warmup", slog.Int("queries", 6), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CatalogWarmupJob) warmMetadata(ctx context.Context) (catalog.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, warmQueryTimeout)
	defer cancel()
	meta, err := j.Catalog.GetMetadata(ctx)
	if err != nil {
		return catalog.Metadata{}, err
	}
	j.metrics().AddWarmed("metadata")
	return meta, nil
}

func (j *CatalogWarmupJob) warmBase(ctx context.Context, state dashboard.FilterState) error {
	ctx, cancel := context.WithTimeout(ctx, warmQueryTimeout)
	defer cancel()
	if _, err := j.Catalog.GetRecords(ctx, dashboard.BuildBaseQuery(state)); err != nil {
		return err
	}
	j.metrics().AddWarmed("base")
	return nil
}

func (j *CatalogWarmupJob) warmSecondary(ctx context.Context, state dashboard.FilterState, kind dashboard.ViewKind) error {
	query, ok := dashboard.BuildSecondaryQuery(state, kind)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, warmQueryTimeout)
	defer cancel()

	var err error
	switch q := query.(type) {
	case catalog.HistogramQuery:
		_, err = j.Catalog.GetHistogram(ctx, q)
	case catalog.BoxplotQuery:
		_, err = j.Catalog.GetBoxplot(ctx, q)
	case catalog.AnomalyQuery:
		_, err = j.Catalog.GetAnomalies(ctx, q)
	case catalog.ClusterQuery:
		_, err = j.Catalog.GetClusters(ctx, q)
	default:
		return fmt.Errorf("catalog warmup: no warmer for view %s", kind)
	}
	if err != nil {
		return err
	}
	j.metrics().AddWarmed(string(kind))
	return nil
}

func (j *CatalogWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCatalogWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCatalogWarmup))
}

func (j *CatalogWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CatalogWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
