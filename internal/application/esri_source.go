package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

const defaultPageSize = 1000

// ESRIServerSource splits a remote feature service into ranges of pages.
// When the service cannot count its features the single initial range is
// unbounded and readers discover the end while paging.
type ESRIServerSource struct {
	name     string
	url      string
	opts     domain.SourceOptions
	service  output.FeatureService
	info     domain.ServiceInfo
	pageSize int64
	count    int64
	deps     SourceDeps
}

var _ input.Source = (*ESRIServerSource)(nil)

// NewESRIServerSource describes and counts the service once.
func NewESRIServerSource(
	ctx context.Context,
	desc domain.SourceDescriptor,
	opts domain.SourceOptions,
	services output.FeatureServiceFactory,
	deps SourceDeps,
) (*ESRIServerSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	service, err := services.NewService(desc.URI)
	if err != nil {
		return nil, err
	}
	info, err := service.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describing service %s: %w", desc.URI, err)
	}

	pageSize := int64(opts.PageSize)
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	limit := int64(defaultPageSize)
	if info.MaxRecordCount > 0 {
		limit = int64(info.MaxRecordCount)
	}
	pageSize = min(pageSize, limit)

	count, err := service.Count(ctx)
	if err != nil {
		deps.Logger.Warn("feature count unavailable, reading unbounded", "source", desc.URI, "error", err)
		count = -1
	}

	deps.Logger.Debug("service source created",
		"source", desc.URI,
		"layer", info.Name,
		"features", count,
		"page_size", pageSize,
		"crs", info.CRS.String(),
	)

	return &ESRIServerSource{
		name:     desc.String(),
		url:      desc.URI,
		opts:     opts,
		service:  service,
		info:     info,
		pageSize: pageSize,
		count:    count,
		deps:     deps,
	}, nil
}

// Name implements input.Source.
func (s *ESRIServerSource) Name() string { return s.name }

// PageSize returns the effective page size.
func (s *ESRIServerSource) PageSize() int64 { return s.pageSize }

// PageCount returns the number of pages, or -1 when unknown.
func (s *ESRIServerSource) PageCount() int64 {
	if s.count < 0 {
		return -1
	}
	return (s.count + s.pageSize - 1) / s.pageSize
}

// EstimateSize implements input.Source.
func (s *ESRIServerSource) EstimateSize(_ context.Context) (int64, error) {
	if s.count < 0 {
		return -1, nil
	}
	return s.count * assumedFeatureBytes, nil
}

// InitialRanges implements input.Source.
func (s *ESRIServerSource) InitialRanges(ctx context.Context, desiredBundleSize int64) ([]domain.Range, error) {
	pages := s.PageCount()
	if pages < 0 {
		return []domain.Range{domain.NewRange(0, domain.Unbounded)}, nil
	}
	size, _ := s.EstimateSize(ctx)
	return domain.SplitEvenly(pages, domain.PartsForBundle(size, desiredBundleSize)), nil
}

// CreateReader implements input.Source.
func (s *ESRIServerSource) CreateReader(_ context.Context, r domain.Range) (input.Reader, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if pages := s.PageCount(); pages >= 0 && r.IsBounded() && r.End > pages {
		return nil, fmt.Errorf("range %s beyond %d pages: %w", r, pages, domain.ErrInvalidRange)
	}
	producer := &pageProducer{source: s}
	return newRangeReader(s.name, r, producer, s.deps.Metrics, s.deps.Logger), nil
}

// pageProducer fetches one page per claimed position.
type pageProducer struct {
	source   *ESRIServerSource
	env      *readEnv
	pipeline *geometryPipeline
}

func (p *pageProducer) open(ctx context.Context, env *readEnv) error {
	p.env = env

	var err error
	p.pipeline, err = newGeometryPipeline(
		p.source.deps.Transformers,
		p.source.deps.Repairers,
		p.source.opts,
		p.source.info.CRS,
		p.source.url,
	)
	if err != nil {
		return err
	}

	if !env.tracker.IsBounded() {
		if count, err := p.source.service.Count(ctx); err == nil {
			pages := (count + p.source.pageSize - 1) / p.source.pageSize
			if err := env.tracker.DiscoverBound(max(pages, env.tracker.Range().Start)); err != nil {
				env.logger.Debug("discovered bound rejected", "source", env.source, "pages", pages, "error", err)
			}
		}
	}
	return nil
}

// produce fetches page pos. Servers may return fewer rows than asked for
// while flagging exceededTransferLimit, so the page is completed with
// follow-up requests until it is full or the data runs out.
func (p *pageProducer) produce(ctx context.Context, pos int64) ([]domain.GeoRecord, error) {
	size := p.source.pageSize
	offset := pos * size

	var features []domain.Feature
	for int64(len(features)) < size {
		got := int64(len(features))
		page, err := p.source.service.Page(ctx, offset+got, size-got)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedResponse) && pos > 0 {
				p.env.defect(domain.DefectPageMalformed, pos, err)
				if !p.env.tracker.IsBounded() {
					p.discoverBound(pos + 1)
				}
				return nil, nil
			}
			return nil, fmt.Errorf("fetching page %d at offset %d: %w", pos, offset+got, err)
		}
		features = append(features, page.Features...)
		if len(page.Features) == 0 || !page.ExceededTransferLimit {
			break
		}
	}
	if int64(len(features)) > size {
		features = features[:size]
	}

	if !p.env.tracker.IsBounded() && int64(len(features)) < size {
		p.discoverBound(pos + 1)
	}

	records := make([]domain.GeoRecord, 0, len(features))
	for i, f := range features {
		f.Index = offset + int64(i)
		record, ok := p.pipeline.featureRecord(p.env, f)
		if !ok {
			continue
		}
		record.Position = pos
		records = append(records, record)
	}
	return records, nil
}

func (p *pageProducer) discoverBound(stop int64) {
	if err := p.env.tracker.DiscoverBound(stop); err != nil {
		p.env.logger.Debug("discovered bound rejected", "source", p.env.source, "stop", stop, "error", err)
	}
}

func (p *pageProducer) close() error {
	if p.pipeline == nil {
		return nil
	}
	return p.pipeline.close()
}
