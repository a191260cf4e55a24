// Package main provides the entry point for the geosplit command.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/geosplit/internal/app"
	"github.com/jobrunner/geosplit/internal/config"
	"github.com/jobrunner/geosplit/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if app.IsUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geosplit",
	Short: "geosplit - splittable geospatial sources",
	Long: `geosplit partitions geospatial files and feature services into ranges
and reads them in parallel.

Supported sources:
  - GeoTIFF rasters (pixel points or block polygons)
  - Shapefiles, plain, in directories or zipped
  - File geodatabases, plain or zipped
  - GeoJSON feature collections
  - GeoPackage vector tables
  - ArcGIS feature service layers

Sources may be local paths or s3://, az://, http(s):// URIs.`,
	SilenceUsage: true,
}

var rangesCmd = &cobra.Command{
	Use:   "ranges <uri>",
	Short: "Print the initial ranges of a source as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRanges,
}

var readCmd = &cobra.Command{
	Use:   "read <uri>",
	Short: "Read all ranges of a source and write GeoJSON lines",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRead,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("geosplit %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	// Source flags
	flags.String("kind", "", "source kind (raster, shapefile, geodatabase, geojson, geopackage, esri-service)")
	flags.String("layer", "", "layer inside a container")
	flags.String("member", "", "member .gdb inside a zip")

	// Source option flags
	flags.Bool("skip-reproject", false, "keep coordinates in the source CRS")
	flags.Int("in-epsg", 0, "override the source CRS with an EPSG code")
	flags.String("in-proj", "", "override the source CRS with a PROJ definition")
	flags.Int("out-epsg", domain.EPSGWGS84, "target EPSG code")
	flags.Int("band", 1, "raster band")
	flags.Bool("include-nodata", false, "keep nodata pixels")
	flags.Bool("polygonize", false, "emit block polygons instead of pixel points")
	flags.String("layer-name", "", "shapefile, geodatabase or GeoPackage layer")
	flags.String("gdb-name", "", "geodatabase inside a zip")
	flags.Int("page-size", 1000, "feature service page size")
	flags.Uint("geohash-precision", 0, "add a geohash attribute of this length")

	// Runner flags
	readCmd.Flags().Int("workers", 4, "parallel readers")
	readCmd.Flags().Bool("rebalance", true, "split active ranges when a worker idles")
	readCmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	flags.Int64("bundle-size", 64<<20, "desired bytes per initial range")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"logging.level":             "log-level",
		"logging.format":            "log-format",
		"metrics.address":           "metrics-addr",
		"source.kind":               "kind",
		"source.layer":              "layer",
		"source.member":             "member",
		"options.skip_reproject":    "skip-reproject",
		"options.in_epsg":           "in-epsg",
		"options.in_proj":           "in-proj",
		"options.out_epsg":          "out-epsg",
		"options.band_number":       "band",
		"options.include_nodata":    "include-nodata",
		"options.polygonize":        "polygonize",
		"options.layer_name":        "layer-name",
		"options.gdb_name":          "gdb-name",
		"options.page_size":         "page-size",
		"options.geohash_precision": "geohash-precision",
		"runner.bundle_size":        "bundle-size",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
	_ = viper.BindPFlag("runner.workers", readCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("runner.rebalance", readCmd.Flags().Lookup("rebalance"))

	rootCmd.AddCommand(rangesCmd, readCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setup loads the configuration, taking the source URI from args when
// given, and builds the application.
func setup(ctx context.Context, cmd *cobra.Command, args []string) (*app.App, error) {
	if len(args) == 1 {
		viper.Set("source.uri", args[0])
	}
	if cmd.Flags().Changed("metrics-addr") {
		viper.Set("metrics.enabled", true)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := app.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// rangesDoc is the YAML output of the ranges command.
type rangesDoc struct {
	Source        domain.SourceDescriptor `yaml:"source"`
	EstimatedSize int64                   `yaml:"estimated_size"`
	BundleSize    int64                   `yaml:"bundle_size"`
	Ranges        []domain.Range          `yaml:"ranges"`
}

func runRanges(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown() }()

	size, ranges, err := a.Ranges(ctx)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(rangesDoc{
		Source:        a.Config.Source,
		EstimatedSize: size,
		BundleSize:    a.Config.Runner.BundleSize,
		Ranges:        ranges,
	})
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown() }()

	a.Logger.Info("starting geosplit",
		"version", version,
		"source", a.Config.Source.URI,
		"workers", a.Config.Runner.Workers,
	)

	var out io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "-" {
		f, err := os.Create(path) //#nosec G304 -- output path given by the user
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := a.ServeMetrics(metricsCtx); err != nil {
			a.Logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		stopMetrics()
		<-metricsDone
	}()

	stats, err := a.Read(ctx, out)
	if err != nil {
		return err
	}
	if stats.Failures > 0 {
		return fmt.Errorf("%d of %d ranges failed", stats.Failures, stats.Ranges)
	}
	return nil
}
