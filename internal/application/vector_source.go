package application

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// VectorSource splits a file-backed vector layer (shapefile, geodatabase,
// GeoJSON, GeoPackage) into ranges of feature indices.
type VectorSource struct {
	name   string
	kind   domain.FormatKind
	path   string
	sel    domain.LayerSelector
	opts   domain.SourceOptions
	opener output.FeatureLayerOpener
	index  *VectorFeatureIndex
	deps   SourceDeps
}

var _ input.Source = (*VectorSource)(nil)

// NewShapefileSource creates a source over a .shp file, a directory or a
// zip archive of shapefiles.
func NewShapefileSource(ctx context.Context, desc domain.SourceDescriptor, obj output.LocalObject, opts domain.SourceOptions, opener output.FeatureLayerOpener, deps SourceDeps) (*VectorSource, error) {
	return newVectorSource(ctx, domain.KindShapefile, desc, obj, opts, opener, deps)
}

// NewGeodatabaseSource creates a source over a file geodatabase directory or
// a zip holding one or more.
func NewGeodatabaseSource(ctx context.Context, desc domain.SourceDescriptor, obj output.LocalObject, opts domain.SourceOptions, opener output.FeatureLayerOpener, deps SourceDeps) (*VectorSource, error) {
	return newVectorSource(ctx, domain.KindGeodatabase, desc, obj, opts, opener, deps)
}

// NewGeoJSONSource creates a source over a GeoJSON FeatureCollection.
func NewGeoJSONSource(ctx context.Context, desc domain.SourceDescriptor, obj output.LocalObject, opts domain.SourceOptions, opener output.FeatureLayerOpener, deps SourceDeps) (*VectorSource, error) {
	return newVectorSource(ctx, domain.KindGeoJSON, desc, obj, opts, opener, deps)
}

// NewGeoPackageSource creates a source over a GeoPackage feature table.
func NewGeoPackageSource(ctx context.Context, desc domain.SourceDescriptor, obj output.LocalObject, opts domain.SourceOptions, opener output.FeatureLayerOpener, deps SourceDeps) (*VectorSource, error) {
	return newVectorSource(ctx, domain.KindGeoPackage, desc, obj, opts, opener, deps)
}

func newVectorSource(
	ctx context.Context,
	kind domain.FormatKind,
	desc domain.SourceDescriptor,
	obj output.LocalObject,
	opts domain.SourceOptions,
	opener output.FeatureLayerOpener,
	deps SourceDeps,
) (*VectorSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	sel := layerSelector(desc, opts)
	layer, err := opener.OpenLayer(ctx, obj.Path, sel)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("opening %s layer %s: %w", kind, desc.URI, err)
	}
	info := layer.Info()
	if err := layer.Close(); err != nil {
		deps.Logger.Warn("closing layer after count", "source", desc.URI, "error", err)
	}

	if info.SizeBytes <= 0 {
		info.SizeBytes = obj.Size
	}
	// Later readers must open the very layer that was counted.
	if sel.Layer == "" {
		sel.Layer = info.Name
	}

	deps.Logger.Debug("vector source created",
		"source", desc.URI,
		"kind", kind,
		"layer", info.Name,
		"features", info.FeatureCount,
		"crs", info.CRS.String(),
	)

	return &VectorSource{
		name:   desc.String(),
		kind:   kind,
		path:   obj.Path,
		sel:    sel,
		opts:   opts,
		opener: opener,
		index:  NewVectorFeatureIndex(info),
		deps:   deps,
	}, nil
}

func layerSelector(desc domain.SourceDescriptor, opts domain.SourceOptions) domain.LayerSelector {
	sel := domain.LayerSelector{Layer: desc.Layer, Member: desc.Member}
	if opts.LayerName != "" {
		sel.Layer = opts.LayerName
	}
	if opts.GDBName != "" {
		sel.Member = opts.GDBName
	}
	return sel
}

// Name implements input.Source.
func (s *VectorSource) Name() string { return s.name }

// Kind returns the format kind.
func (s *VectorSource) Kind() domain.FormatKind { return s.kind }

// Index returns the feature index.
func (s *VectorSource) Index() *VectorFeatureIndex { return s.index }

// EstimateSize implements input.Source.
func (s *VectorSource) EstimateSize(_ context.Context) (int64, error) {
	return s.index.EstimatedSize(), nil
}

// InitialRanges implements input.Source.
func (s *VectorSource) InitialRanges(_ context.Context, desiredBundleSize int64) ([]domain.Range, error) {
	return s.index.InitialRanges(desiredBundleSize), nil
}

// CreateReader implements input.Source.
func (s *VectorSource) CreateReader(_ context.Context, r domain.Range) (input.Reader, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.End > s.index.FeatureCount() {
		return nil, fmt.Errorf("range %s beyond %d features: %w", r, s.index.FeatureCount(), domain.ErrInvalidRange)
	}
	producer := &featureProducer{source: s}
	return newRangeReader(s.name, r, producer, s.deps.Metrics, s.deps.Logger), nil
}

// featureProducer reads one feature per claimed position through a forward
// cursor opened at the range start.
type featureProducer struct {
	source   *VectorSource
	env      *readEnv
	layer    output.FeatureLayer
	cursor   output.FeatureCursor
	pipeline *geometryPipeline
}

func (p *featureProducer) open(ctx context.Context, env *readEnv) error {
	p.env = env
	layer, err := p.source.opener.OpenLayer(ctx, p.source.path, p.source.sel)
	if err != nil {
		return fmt.Errorf("opening layer: %w", err)
	}
	p.layer = layer

	p.pipeline, err = newGeometryPipeline(
		p.source.deps.Transformers,
		p.source.deps.Repairers,
		p.source.opts,
		layer.Info().CRS,
		p.source.path,
	)
	if err != nil {
		return err
	}

	p.cursor, err = layer.Cursor(ctx, env.tracker.Range().Start)
	if err != nil {
		return fmt.Errorf("positioning cursor: %w", err)
	}
	return nil
}

func (p *featureProducer) produce(ctx context.Context, pos int64) ([]domain.GeoRecord, error) {
	f, err := p.cursor.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		p.env.logger.Debug("layer exhausted before range end", "source", p.env.source, "position", pos)
		p.env.tracker.MarkDone()
		return nil, nil
	case errors.Is(err, domain.ErrFeatureUnreadable):
		p.env.defect(domain.DefectFeatureUnreadable, pos, err)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading feature %d: %w", pos, err)
	}

	if f.Index != pos {
		return nil, fmt.Errorf("cursor returned feature %d, expected %d: %w", f.Index, pos, domain.ErrInvalidRange)
	}

	record, ok := p.pipeline.featureRecord(p.env, f)
	if !ok {
		return nil, nil
	}
	return []domain.GeoRecord{record}, nil
}

func (p *featureProducer) close() error {
	var errs []error
	if p.cursor != nil {
		errs = append(errs, p.cursor.Close())
	}
	if p.pipeline != nil {
		errs = append(errs, p.pipeline.close())
	}
	if p.layer != nil {
		errs = append(errs, p.layer.Close())
	}
	return errors.Join(errs...)
}
