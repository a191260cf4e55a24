package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// shapefileSidecars are fetched next to a remote .shp when present.
var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// ResolverConfig configures the local cache of remote objects.
type ResolverConfig struct {
	CacheDir   string        // Download directory, a temp dir when empty
	MaxObjects int64         // Cached objects kept before eviction
	TTL        time.Duration // Time an object is reused without a new Stat
}

// Resolver implements output.ObjectResolver. Local paths are returned as
// they are; remote objects are downloaded once per TTL, concurrent
// requests for the same URI sharing one download.
type Resolver struct {
	backends map[string]output.ObjectStorage
	cacheDir string
	ownsDir  bool
	ttl      time.Duration
	cache    *ccache.Cache[output.LocalObject]
	inflight singleflight.Group
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

var _ output.ObjectResolver = (*Resolver)(nil)

// NewResolver creates a resolver. backends maps URI schemes ("file", "s3",
// "az", "http", "https") to storages; scheme-less paths use "file".
func NewResolver(cfg ResolverConfig, backends map[string]output.ObjectStorage, metrics output.MetricsCollector, logger *slog.Logger) (*Resolver, error) {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = 64
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	dir := cfg.CacheDir
	if dir == "" {
		var err error
		if dir, err = os.MkdirTemp("", "geosplit-cache-"); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	r := &Resolver{
		backends: backends,
		cacheDir: dir,
		ownsDir:  cfg.CacheDir == "",
		ttl:      cfg.TTL,
		metrics:  metrics,
		logger:   logger,
	}
	r.cache = ccache.New(ccache.Configure[output.LocalObject]().
		MaxSize(cfg.MaxObjects).
		OnDelete(func(item *ccache.Item[output.LocalObject]) {
			_ = os.RemoveAll(filepath.Dir(item.Value().Path))
		}))
	return r, nil
}

// splitURI returns the scheme and the storage key of a source URI.
func splitURI(uri string) (string, string) {
	u, err := url.Parse(uri)
	// Single letters are Windows drive letters
	if err != nil || len(u.Scheme) <= 1 {
		return "file", uri
	}
	switch u.Scheme {
	case "file":
		return "file", u.Path
	case "http", "https":
		return u.Scheme, uri
	}
	return u.Scheme, strings.TrimPrefix(u.Host+u.Path, "/")
}

// Resolve implements output.ObjectResolver.
func (r *Resolver) Resolve(ctx context.Context, uri string) (output.LocalObject, error) {
	scheme, key := splitURI(uri)
	backend, ok := r.backends[scheme]
	if !ok {
		return output.LocalObject{}, &domain.ConfigError{Field: "uri", Message: fmt.Sprintf("no storage configured for scheme %q", scheme)}
	}

	if local, ok := backend.(*LocalStorage); ok {
		obj, err := local.Stat(ctx, key)
		if err != nil {
			return output.LocalObject{}, &domain.StorageError{Operation: "stat", Key: uri, Err: err}
		}
		return output.LocalObject{Path: local.FullPath(key), Size: obj.Size}, nil
	}

	if item := r.cache.Get(uri); item != nil && !item.Expired() {
		if _, err := os.Stat(item.Value().Path); err == nil {
			return item.Value(), nil
		}
	}

	v, err, _ := r.inflight.Do(uri, func() (interface{}, error) {
		return r.fetch(ctx, backend, uri, key)
	})
	if err != nil {
		return output.LocalObject{}, err
	}
	return v.(output.LocalObject), nil
}

// fetch downloads key into a fresh cache subdirectory, keeping the base
// name so format detection by extension still works. Evicting the cache
// entry removes the subdirectory.
func (r *Resolver) fetch(ctx context.Context, backend output.ObjectStorage, uri, key string) (output.LocalObject, error) {
	start := time.Now()

	info, err := backend.Stat(ctx, key)
	if err != nil {
		r.metrics.IncStorageOperations("stat", false)
		return output.LocalObject{}, &domain.StorageError{Operation: "stat", Key: uri, Err: err}
	}
	r.metrics.IncStorageOperations("stat", true)

	sum := sha256.Sum256([]byte(uri))
	dir := filepath.Join(r.cacheDir, hex.EncodeToString(sum[:8])+"-"+strconv.FormatInt(start.UnixNano(), 36))
	dest := filepath.Join(dir, path.Base(key))

	if err := r.download(ctx, backend, key, dest); err != nil {
		r.metrics.IncStorageOperations("download", false)
		return output.LocalObject{}, &domain.StorageError{Operation: "download", Key: uri, Err: err}
	}

	if strings.EqualFold(path.Ext(key), ".shp") {
		stem := strings.TrimSuffix(key, path.Ext(key))
		for _, ext := range shapefileSidecars {
			sidecar := filepath.Join(dir, path.Base(stem)+ext)
			err := r.download(ctx, backend, stem+ext, sidecar)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				r.logger.Warn("fetching shapefile sidecar", "source", uri, "sidecar", ext, "error", err)
			}
		}
	}

	r.metrics.IncStorageOperations("download", true)
	r.metrics.ObserveStorageDuration("download", time.Since(start))

	obj := output.LocalObject{Path: dest, Size: info.Size}
	if obj.Size <= 0 {
		if fi, err := os.Stat(dest); err == nil {
			obj.Size = fi.Size()
		}
	}
	r.cache.Set(uri, obj, r.ttl)

	r.logger.Info("source downloaded",
		"source", uri,
		"path", dest,
		"size", obj.Size,
		"duration", time.Since(start),
	)
	return obj, nil
}

// download writes to a temporary name first so a failed transfer never
// leaves a truncated file at dest.
func (r *Resolver) download(ctx context.Context, backend output.ObjectStorage, key, dest string) error {
	tmp := dest + ".part"
	if err := backend.Download(ctx, key, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// Close stops the cache and removes a cache directory the resolver
// created itself.
func (r *Resolver) Close() error {
	r.cache.Stop()
	if r.ownsDir {
		return os.RemoveAll(r.cacheDir)
	}
	return nil
}
