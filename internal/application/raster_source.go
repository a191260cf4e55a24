package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// SourceDeps are the collaborators shared by all sources.
type SourceDeps struct {
	Transformers output.TransformerFactory
	Repairers    output.RepairerFactory
	Metrics      output.MetricsCollector
	Logger       *slog.Logger
}

func (d SourceDeps) withDefaults() SourceDeps {
	if d.Metrics == nil {
		d.Metrics = &output.NoOpMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// RasterMode selects what a raster source emits.
type RasterMode int

const (
	// RasterPixels emits one point per pixel.
	RasterPixels RasterMode = iota
	// RasterPolygons emits one polygon per block-local region of equal value.
	RasterPolygons
)

// String returns the mode name.
func (m RasterMode) String() string {
	if m == RasterPolygons {
		return "polygons"
	}
	return "pixels"
}

// RasterSource splits a raster into ranges of native blocks.
type RasterSource struct {
	name   string
	path   string
	mode   RasterMode
	opts   domain.SourceOptions
	opener output.RasterOpener
	index  *RasterTileIndex
	size   int64
	deps   SourceDeps
}

var _ input.Source = (*RasterSource)(nil)

// NewRasterBlockSource creates a source emitting pixel points.
func NewRasterBlockSource(ctx context.Context, desc domain.SourceDescriptor, path string, opts domain.SourceOptions, opener output.RasterOpener, deps SourceDeps) (*RasterSource, error) {
	return newRasterSource(ctx, desc, path, RasterPixels, opts, opener, deps)
}

// NewRasterPolygonSource creates a source emitting block-local polygons.
func NewRasterPolygonSource(ctx context.Context, desc domain.SourceDescriptor, path string, opts domain.SourceOptions, opener output.RasterOpener, deps SourceDeps) (*RasterSource, error) {
	return newRasterSource(ctx, desc, path, RasterPolygons, opts, opener, deps)
}

func newRasterSource(
	ctx context.Context,
	desc domain.SourceDescriptor,
	path string,
	mode RasterMode,
	opts domain.SourceOptions,
	opener output.RasterOpener,
	deps SourceDeps,
) (*RasterSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	ds, err := opener.OpenRaster(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening raster %s: %w", desc.URI, err)
	}
	meta := ds.Metadata()
	if err := ds.Close(); err != nil {
		deps.Logger.Warn("closing raster after metadata read", "source", desc.URI, "error", err)
	}

	index, err := NewRasterTileIndex(meta, opts.BandNumber)
	if err != nil {
		return nil, err
	}

	deps.Logger.Debug("raster source created",
		"source", desc.URI,
		"mode", mode.String(),
		"width", meta.Width,
		"height", meta.Height,
		"block_width", meta.BlockWidth,
		"block_height", meta.BlockHeight,
		"blocks", index.BlockCount(),
	)

	return &RasterSource{
		name:   desc.String(),
		path:   path,
		mode:   mode,
		opts:   opts,
		opener: opener,
		index:  index,
		size:   index.EstimatedSize(),
		deps:   deps,
	}, nil
}

// Name implements input.Source.
func (s *RasterSource) Name() string { return s.name }

// Index returns the source's tile index.
func (s *RasterSource) Index() *RasterTileIndex { return s.index }

// EstimateSize implements input.Source.
func (s *RasterSource) EstimateSize(_ context.Context) (int64, error) {
	return s.size, nil
}

// InitialRanges implements input.Source.
func (s *RasterSource) InitialRanges(_ context.Context, desiredBundleSize int64) ([]domain.Range, error) {
	return s.index.InitialRanges(desiredBundleSize), nil
}

// CreateReader implements input.Source.
func (s *RasterSource) CreateReader(_ context.Context, r domain.Range) (input.Reader, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.End > s.index.BlockCount() {
		return nil, fmt.Errorf("range %s beyond %d blocks: %w", r, s.index.BlockCount(), domain.ErrInvalidRange)
	}
	producer := &rasterProducer{source: s}
	return newRangeReader(s.name, r, producer, s.deps.Metrics, s.deps.Logger), nil
}

// rasterProducer reads one block per claimed position.
type rasterProducer struct {
	source   *RasterSource
	env      *readEnv
	ds       output.RasterDataset
	meta     domain.RasterMetadata
	pipeline *geometryPipeline
}

func (p *rasterProducer) open(ctx context.Context, env *readEnv) error {
	p.env = env
	ds, err := p.source.opener.OpenRaster(ctx, p.source.path)
	if err != nil {
		return fmt.Errorf("opening raster: %w", err)
	}
	p.ds = ds
	p.meta = ds.Metadata()

	var repairs output.RepairerFactory
	if p.source.mode == RasterPolygons {
		repairs = p.source.deps.Repairers
	}
	p.pipeline, err = newGeometryPipeline(p.source.deps.Transformers, repairs, p.source.opts, p.meta.CRS, p.source.path)
	return err
}

func (p *rasterProducer) isNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return p.meta.HasNoData && v == p.meta.NoData
}

func (p *rasterProducer) skip(v float64) bool {
	return !p.source.opts.IncludeNoData && p.isNoData(v)
}

func (p *rasterProducer) produce(ctx context.Context, pos int64) ([]domain.GeoRecord, error) {
	window, err := p.source.index.Window(pos)
	if err != nil {
		return nil, err
	}

	values, err := p.ds.ReadWindow(ctx, window)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.env.defect(domain.DefectBlockUnreadable, pos, err)
		return nil, nil
	}
	if len(values) != window.PixelCount() {
		p.env.defect(domain.DefectBlockUnreadable, pos,
			fmt.Errorf("block %d returned %d samples, want %d: %w", pos, len(values), window.PixelCount(), domain.ErrBlockUnreadable))
		return nil, nil
	}

	if p.source.mode == RasterPolygons {
		return p.polygonRecords(pos, window, values), nil
	}
	return p.pixelRecords(pos, window, values), nil
}

func (p *rasterProducer) pixelRecords(pos int64, window domain.RasterWindow, values []float64) []domain.GeoRecord {
	records := make([]domain.GeoRecord, 0, len(values))
	gt := p.meta.GeoTransform

	for row := 0; row < window.Height; row++ {
		for col := 0; col < window.Width; col++ {
			v := values[row*window.Width+col]
			if p.skip(v) {
				continue
			}

			px, py := window.PixelX+col, window.PixelY+row
			x, y := gt.Apply(float64(px)+0.5, float64(py)+0.5)
			tx, ty, err := p.pipeline.transformer.TransformPoint(x, y)
			if err != nil {
				p.env.defect(domain.DefectGeometryTransform, pos, err)
				continue
			}

			pt := orb.Point{tx, ty}
			attrs := map[string]interface{}{
				domain.AttrValue:  v,
				domain.AttrBand:   window.Band,
				domain.AttrPixelX: px,
				domain.AttrPixelY: py,
			}
			p.pipeline.annotate(attrs, pt)
			records = append(records, domain.GeoRecord{Position: pos, Attributes: attrs, Geometry: pt})
		}
	}
	return records
}

func (p *rasterProducer) polygonRecords(pos int64, window domain.RasterWindow, values []float64) []domain.GeoRecord {
	polys := polygonize(values, window.Width, window.Height, p.skip)
	records := make([]domain.GeoRecord, 0, len(polys))
	gt := p.meta.GeoTransform

	for _, poly := range polys {
		georef, err := domain.MapPoints(poly.Geometry, func(pt orb.Point) (orb.Point, error) {
			x, y := gt.Apply(float64(window.PixelX)+pt[0], float64(window.PixelY)+pt[1])
			return orb.Point{x, y}, nil
		})
		if err != nil {
			p.env.defect(domain.DefectGeometryTransform, pos, err)
			continue
		}

		geom, kind, err := p.pipeline.process(georef)
		if err != nil {
			p.env.defect(kind, pos, err)
			continue
		}

		attrs := map[string]interface{}{
			domain.AttrValue: poly.Value,
			domain.AttrBand:  window.Band,
			domain.AttrBlock: pos,
		}
		p.pipeline.annotate(attrs, geom)
		records = append(records, domain.GeoRecord{Position: pos, Attributes: attrs, Geometry: geom})
	}
	return records
}

func (p *rasterProducer) close() error {
	var errs []error
	if p.pipeline != nil {
		errs = append(errs, p.pipeline.close())
	}
	if p.ds != nil {
		errs = append(errs, p.ds.Close())
	}
	return errors.Join(errs...)
}
