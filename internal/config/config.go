// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/geosplit/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Source  domain.SourceDescriptor `mapstructure:"source"`
	Options domain.SourceOptions    `mapstructure:"options"`
	Runner  RunnerConfig            `mapstructure:"runner"`
	Storage StorageConfig           `mapstructure:"storage"`
	Raster  RasterConfig            `mapstructure:"raster"`
	ESRI    ESRIConfig              `mapstructure:"esri"`
	Metrics MetricsConfig           `mapstructure:"metrics"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// RunnerConfig holds the local runner configuration.
type RunnerConfig struct {
	Workers    int   `mapstructure:"workers"`
	BundleSize int64 `mapstructure:"bundle_size"` // Desired bytes per initial range
	Rebalance  bool  `mapstructure:"rebalance"`   // Split active readers when a worker idles
}

// StorageConfig holds source resolution configuration.
type StorageConfig struct {
	BasePath string      `mapstructure:"base_path"` // Resolves relative local paths
	TempDir  string      `mapstructure:"temp_dir"`  // Zip extraction
	Cache    CacheConfig `mapstructure:"cache"`
	S3       S3Config    `mapstructure:"s3"`
	Azure    AzureConfig `mapstructure:"azure"`
	HTTP     HTTPConfig  `mapstructure:"http"`
}

// CacheConfig holds the download cache configuration.
type CacheConfig struct {
	Dir        string        `mapstructure:"dir"`
	MaxObjects int64         `mapstructure:"max_objects"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// Enabled returns true if an account or connection string is configured.
func (c *AzureConfig) Enabled() bool {
	return c.AccountName != "" || c.ConnectionString != ""
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
}

// RasterConfig holds raster decoding configuration.
type RasterConfig struct {
	BlockCache int64 `mapstructure:"block_cache"` // Decoded blocks kept in memory
}

// ESRIConfig holds feature service client configuration.
type ESRIConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Token           string        `mapstructure:"token"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Source defaults; empty keys are still registered so the
	// environment can set them.
	viper.SetDefault("source.uri", "")
	viper.SetDefault("source.kind", "")
	viper.SetDefault("source.layer", "")
	viper.SetDefault("source.member", "")

	// Source option defaults
	opts := domain.DefaultSourceOptions()
	viper.SetDefault("options.in_epsg", 0)
	viper.SetDefault("options.in_proj", "")
	viper.SetDefault("options.layer_name", "")
	viper.SetDefault("options.gdb_name", "")
	viper.SetDefault("options.geohash_precision", 0)
	viper.SetDefault("options.out_epsg", opts.OutEPSG)
	viper.SetDefault("options.band_number", opts.BandNumber)
	viper.SetDefault("options.page_size", opts.PageSize)
	viper.SetDefault("options.skip_reproject", false)
	viper.SetDefault("options.include_nodata", false)
	viper.SetDefault("options.polygonize", false)

	// Runner defaults
	viper.SetDefault("runner.workers", 4)
	viper.SetDefault("runner.bundle_size", 64<<20)
	viper.SetDefault("runner.rebalance", true)

	// Storage defaults
	viper.SetDefault("storage.cache.max_objects", 64)
	viper.SetDefault("storage.cache.ttl", time.Hour)
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Raster defaults
	viper.SetDefault("raster.block_cache", 256)

	// ESRI defaults
	viper.SetDefault("esri.timeout", 60*time.Second)
	viper.SetDefault("esri.max_retries", 5)
	viper.SetDefault("esri.initial_interval", 500*time.Millisecond)
	viper.SetDefault("esri.max_interval", 30*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", ":9090")
	viper.SetDefault("metrics.namespace", "geosplit")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("GEOSPLIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/geosplit")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.URI) == "" {
		return &domain.ConfigError{Field: "source.uri", Message: "source URI is required"}
	}
	if c.Source.Kind != "" {
		if _, err := domain.ParseFormatKind(string(c.Source.Kind)); err != nil {
			return &domain.ConfigError{Field: "source.kind", Message: err.Error()}
		}
	}
	if err := c.Options.Validate(); err != nil {
		return err
	}

	if c.Runner.Workers < 1 {
		return &domain.ConfigError{Field: "runner.workers", Message: fmt.Sprintf("invalid worker count: %d", c.Runner.Workers)}
	}
	if c.Runner.BundleSize < 0 {
		return &domain.ConfigError{Field: "runner.bundle_size", Message: "must not be negative"}
	}

	if c.Storage.S3.Enabled && c.Storage.S3.Region == "" && c.Storage.S3.Endpoint == "" {
		return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region or endpoint is required"}
	}
	if c.Storage.Azure.AccountName != "" && c.Storage.Azure.AccountKey == "" && c.Storage.Azure.ConnectionString == "" {
		return &domain.ConfigError{Field: "storage.azure.account_key", Message: "azure account key is required"}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return &domain.ConfigError{Field: "metrics.address", Message: "metrics enabled but no address specified"}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return &domain.ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown log format: %s", c.Logging.Format)}
	}

	return nil
}
