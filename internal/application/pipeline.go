package application

import (
	"errors"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// geometryPipeline reprojects, repairs and annotates geometries of one
// reader. It owns the reader's transformer and repairer.
type geometryPipeline struct {
	transformer      output.CoordinateTransformer
	repairer         output.GeometryRepairer
	geohashPrecision uint
}

// newGeometryPipeline builds the per-reader transform and repair state.
// repairs may be nil when records never need repair (pixel points).
func newGeometryPipeline(
	transformers output.TransformerFactory,
	repairs output.RepairerFactory,
	opts domain.SourceOptions,
	embedded domain.CRS,
	source string,
) (*geometryPipeline, error) {
	transformer, err := NewCoordinateTransformer(transformers, opts, embedded, source)
	if err != nil {
		return nil, err
	}

	p := &geometryPipeline{transformer: transformer}
	if repairs != nil {
		repairer, err := repairs.NewRepairer()
		if err != nil {
			_ = transformer.Close()
			return nil, err
		}
		p.repairer = repairer
	}
	if opts.GeohashPrecision > 0 && !opts.SkipReproject && opts.Target().EPSG == domain.EPSGWGS84 {
		p.geohashPrecision = opts.GeohashPrecision
	}
	return p, nil
}

// process transforms and repairs g. A non-nil error means the record must
// be dropped and kind names the defect. Nil geometries pass through.
func (p *geometryPipeline) process(g orb.Geometry) (out orb.Geometry, kind string, err error) {
	if g == nil {
		return nil, "", nil
	}

	transformed, err := p.transformer.TransformGeometry(g)
	if err != nil {
		return nil, domain.DefectGeometryTransform, err
	}

	if p.repairer == nil {
		return transformed, "", nil
	}
	repaired, err := p.repairer.MakeValid(transformed)
	if err != nil {
		return nil, domain.DefectGeometryInvalid, err
	}
	if !p.repairer.IsAcceptable(transformed, repaired) {
		return nil, domain.DefectGeometryInvalid, errUnacceptableGeometry
	}
	return repaired, "", nil
}

var errUnacceptableGeometry = errors.New("repaired geometry is empty or changed dimension")

// annotate adds derived attributes.
func (p *geometryPipeline) annotate(attrs map[string]interface{}, g orb.Geometry) {
	if p.geohashPrecision == 0 || g == nil || domain.IsEmptyGeometry(g) {
		return
	}
	center := g.Bound().Center()
	attrs[domain.AttrGeohash] = geohash.EncodeWithPrecision(center.Lat(), center.Lon(), p.geohashPrecision)
}

// featureRecord builds the record of a decoded feature.
func (p *geometryPipeline) featureRecord(env *readEnv, f domain.Feature) (domain.GeoRecord, bool) {
	geom, kind, err := p.process(f.Geometry)
	if err != nil {
		env.defect(kind, f.Index, err)
		return domain.GeoRecord{}, false
	}

	attrs := make(map[string]interface{}, len(f.Properties)+1)
	for k, v := range f.Properties {
		attrs[k] = v
	}
	p.annotate(attrs, geom)

	return domain.GeoRecord{
		Position:   f.Index,
		Attributes: attrs,
		Geometry:   geom,
	}, true
}

func (p *geometryPipeline) close() error {
	var errs []error
	if p.transformer != nil {
		errs = append(errs, p.transformer.Close())
	}
	if p.repairer != nil {
		errs = append(errs, p.repairer.Close())
	}
	return errors.Join(errs...)
}
