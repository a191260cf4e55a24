// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jobrunner/geosplit/internal/adapters/esri"
	"github.com/jobrunner/geosplit/internal/adapters/gdb"
	"github.com/jobrunner/geosplit/internal/adapters/geojson"
	"github.com/jobrunner/geosplit/internal/adapters/geopackage"
	"github.com/jobrunner/geosplit/internal/adapters/geos"
	"github.com/jobrunner/geosplit/internal/adapters/geotiff"
	"github.com/jobrunner/geosplit/internal/adapters/metrics"
	"github.com/jobrunner/geosplit/internal/adapters/proj"
	"github.com/jobrunner/geosplit/internal/adapters/shapefile"
	"github.com/jobrunner/geosplit/internal/adapters/storage"
	"github.com/jobrunner/geosplit/internal/application"
	"github.com/jobrunner/geosplit/internal/config"
	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Resolver *storage.Resolver
	Factory  *application.SourceFactory
	Runner   *Runner
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		metricsCollector = app.Metrics
	}

	// Initialize storage backends
	backends, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Resolver, err = storage.NewResolver(storage.ResolverConfig{
		CacheDir:   cfg.Storage.Cache.Dir,
		MaxObjects: cfg.Storage.Cache.MaxObjects,
		TTL:        cfg.Storage.Cache.TTL,
	}, backends, metricsCollector, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing resolver: %w", err)
	}

	// Initialize source factory
	app.Factory = application.NewSourceFactory(
		application.SourceFactoryConfig{
			Resolver:    app.Resolver,
			Rasters:     geotiff.NewOpener(cfg.Raster.BlockCache),
			Shapefiles:  shapefile.NewOpener(cfg.Storage.TempDir),
			Geodatabase: gdb.NewOpener(),
			GeoJSON:     geojson.NewOpener(),
			GeoPackage:  geopackage.NewOpener(),
			Services: esri.NewFactory(esri.Config{
				Timeout:         cfg.ESRI.Timeout,
				MaxRetries:      cfg.ESRI.MaxRetries,
				InitialInterval: cfg.ESRI.InitialInterval,
				MaxInterval:     cfg.ESRI.MaxInterval,
				Token:           cfg.ESRI.Token,
			}, metricsCollector, logger),
		},
		application.SourceDeps{
			Transformers: proj.NewFactory(),
			Repairers:    geos.NewFactory(),
			Metrics:      metricsCollector,
			Logger:       logger,
		},
	)

	app.Runner = NewRunner(cfg.Runner.Workers, cfg.Runner.BundleSize, cfg.Runner.Rebalance, logger)

	return app, nil
}

// Source creates the configured source.
func (a *App) Source(ctx context.Context) (input.Source, error) {
	return a.Factory.NewSource(ctx, a.Config.Source, a.Config.Options)
}

// Ranges returns the initial partitioning of the configured source.
func (a *App) Ranges(ctx context.Context) (int64, []domain.Range, error) {
	src, err := a.Source(ctx)
	if err != nil {
		return 0, nil, err
	}
	size, err := src.EstimateSize(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("estimating size: %w", err)
	}
	ranges, err := src.InitialRanges(ctx, a.Config.Runner.BundleSize)
	if err != nil {
		return 0, nil, fmt.Errorf("partitioning: %w", err)
	}
	return size, ranges, nil
}

// Read reads the configured source with the runner and writes the records
// to w as GeoJSON lines.
func (a *App) Read(ctx context.Context, w io.Writer) (RunStats, error) {
	src, err := a.Source(ctx)
	if err != nil {
		return RunStats{}, err
	}

	start := time.Now()
	sink := NewGeoJSONLinesSink(w)
	stats, err := a.Runner.Run(ctx, src, sink)
	if flushErr := sink.Flush(); err == nil {
		err = flushErr
	}

	a.Logger.Info("source read",
		"source", src.Name(),
		"ranges", stats.Ranges,
		"splits", stats.Splits,
		"failures", stats.Failures,
		"records", stats.Records,
		"defects", stats.Defects,
		"duration", time.Since(start),
	)
	return stats, err
}

// ServeMetrics serves Prometheus metrics until ctx is cancelled. It
// returns immediately when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.Serve(ctx, a.Config.Metrics.Address, a.Logger)
}

// Shutdown releases cached downloads.
func (a *App) Shutdown() error {
	a.Logger.Debug("shutting down application")
	if a.Resolver != nil {
		return a.Resolver.Close()
	}
	return nil
}

// initStorage initializes the storage backends by URI scheme.
func initStorage(ctx context.Context, cfg config.StorageConfig) (map[string]output.ObjectStorage, error) {
	httpStorage := storage.NewHTTPStorage(storage.HTTPConfig{
		Timeout:  cfg.HTTP.Timeout,
		Username: cfg.HTTP.Username,
		Password: cfg.HTTP.Password,
	})
	backends := map[string]output.ObjectStorage{
		"file":  storage.NewLocalStorage(cfg.BasePath),
		"http":  httpStorage,
		"https": httpStorage,
	}

	if cfg.S3.Enabled {
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		backends["s3"] = s3Storage
	}

	if cfg.Azure.Enabled() {
		azureStorage, err := storage.NewAzureStorage(storage.AzureConfig{
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
		})
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		backends["az"] = azureStorage
	}

	return backends, nil
}

// NewLogger creates the application logger. Records go to stdout, so
// logs are written to w, normally stderr.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// IsUsageError reports whether err stems from bad configuration rather
// than from reading the source.
func IsUsageError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrCRSUndetermined)
}
