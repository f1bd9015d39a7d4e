package main

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pharmalens/pharmalens/internal/app"
	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
	"github.com/pharmalens/pharmalens/internal/dashboard/export"
	dashhttp "github.com/pharmalens/pharmalens/internal/dashboard/http"
	"github.com/pharmalens/pharmalens/internal/dashboard/svg"
	"github.com/pharmalens/pharmalens/internal/observability"
	"github.com/pharmalens/pharmalens/internal/view"
	"github.com/pharmalens/pharmalens/jobs"
	"github.com/pharmalens/pharmalens/report"
)

type barRenderer struct{}

func (barRenderer) Bars(width, height int, bars []svg.Bar, opts svg.BarOpts) (template.HTML, error) {
	return svg.Bars(width, height, bars, opts)
}

type scatterRenderer struct{}

func (scatterRenderer) Scatter(width, height int, points []svg.Point, opts svg.ScatterOpts) (template.HTML, error) {
	return svg.Scatter(width, height, points, opts)
}

type pieRenderer struct{}

func (pieRenderer) Pie(width, height int, slices []svg.Slice, opts svg.PieOpts) (template.HTML, error) {
	return svg.Pie(width, height, slices, opts)
}

type boxRenderer struct{}

func (boxRenderer) Boxplot(width, height int, rows []svg.BoxRow, opts svg.BoxOpts) (template.HTML, error) {
	return svg.Boxplot(width, height, rows, opts)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	dashMetrics := dashboard.NewMetrics(metrics.Registerer())

	cache := catalog.NewCache(redisClient, cfg.CacheTTL)
	cache.ListenForInvalidation(ctx, logger)
	source := catalog.NewClient(cfg.AggregationURL, cfg.AggregationTimeout)
	catalogService := catalog.NewService(source, cache)

	registry := dashboard.NewRegistry(logger, dashMetrics, cfg.SessionTTL)
	registry.StartSweeper(ctx, cfg.SessionSweep)
	factory := func() *dashboard.Controller {
		return dashboard.NewController(catalogService, logger, dashMetrics)
	}

	reportClient := report.NewClient(cfg.GotenbergURL)
	pdfExporter := &export.PDFExporter{Renderer: reportClient}
	reportHandler := report.NewHandler(reportClient, logger)

	dashboardHandler := dashhttp.NewHandler(
		logger,
		registry,
		factory,
		catalogService,
		templates,
		barRenderer{},
		scatterRenderer{},
		pieRenderer{},
		boxRenderer{},
		pdfExporter,
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:    logger,
		Config:    cfg,
		Templates: templates,
		Dashboard: dashboardHandler,
		Jobs:      jobHandler,
		Report:    reportHandler,
		Metrics:   metrics,
		Ready:     source.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
