package application

import (
	"context"
	"fmt"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// SourceFactory builds sources from descriptors.
type SourceFactory struct {
	resolver output.ObjectResolver
	rasters  output.RasterOpener
	layers   map[domain.FormatKind]output.FeatureLayerOpener
	services output.FeatureServiceFactory
	deps     SourceDeps
}

// SourceFactoryConfig wires the format adapters into a factory. Adapters
// left nil make their kinds unavailable.
type SourceFactoryConfig struct {
	Resolver    output.ObjectResolver
	Rasters     output.RasterOpener
	Shapefiles  output.FeatureLayerOpener
	Geodatabase output.FeatureLayerOpener
	GeoJSON     output.FeatureLayerOpener
	GeoPackage  output.FeatureLayerOpener
	Services    output.FeatureServiceFactory
}

// NewSourceFactory creates a new source factory.
func NewSourceFactory(cfg SourceFactoryConfig, deps SourceDeps) *SourceFactory {
	layers := make(map[domain.FormatKind]output.FeatureLayerOpener)
	for kind, opener := range map[domain.FormatKind]output.FeatureLayerOpener{
		domain.KindShapefile:   cfg.Shapefiles,
		domain.KindGeodatabase: cfg.Geodatabase,
		domain.KindGeoJSON:     cfg.GeoJSON,
		domain.KindGeoPackage:  cfg.GeoPackage,
	} {
		if opener != nil {
			layers[kind] = opener
		}
	}

	return &SourceFactory{
		resolver: cfg.Resolver,
		rasters:  cfg.Rasters,
		layers:   layers,
		services: cfg.Services,
		deps:     deps.withDefaults(),
	}
}

// NewSource validates desc and opts and creates the matching source. A
// missing kind is detected from the URI.
func (f *SourceFactory) NewSource(ctx context.Context, desc domain.SourceDescriptor, opts domain.SourceOptions) (input.Source, error) {
	if desc.Kind == "" {
		kind, ok := domain.DetectFormatKind(desc.URI)
		if !ok {
			return nil, &domain.ConfigError{Field: "kind", Message: fmt.Sprintf("cannot detect format of %q", desc.URI)}
		}
		desc.Kind = kind
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if desc.Kind == domain.KindESRIService {
		if f.services == nil {
			return nil, f.unavailable(desc.Kind)
		}
		return NewESRIServerSource(ctx, desc, opts, f.services, f.deps)
	}

	if f.resolver == nil {
		return nil, f.unavailable(desc.Kind)
	}
	obj, err := f.resolver.Resolve(ctx, desc.URI)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", desc.URI, err)
	}

	switch desc.Kind {
	case domain.KindRaster:
		if f.rasters == nil {
			return nil, f.unavailable(desc.Kind)
		}
		if opts.Polygonize {
			return NewRasterPolygonSource(ctx, desc, obj.Path, opts, f.rasters, f.deps)
		}
		return NewRasterBlockSource(ctx, desc, obj.Path, opts, f.rasters, f.deps)
	}

	opener, ok := f.layers[desc.Kind]
	if !ok {
		return nil, f.unavailable(desc.Kind)
	}
	return newVectorSource(ctx, desc.Kind, desc, obj, opts, opener, f.deps)
}

func (f *SourceFactory) unavailable(kind domain.FormatKind) error {
	return &domain.ConfigError{Field: "kind", Message: fmt.Sprintf("no reader configured for %s", kind)}
}
