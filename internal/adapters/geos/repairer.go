// Package geos implements geometry validation and repair using GEOS.
package geos

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Factory creates repairers with their own GEOS context.
type Factory struct{}

// NewFactory creates a new repairer factory.
func NewFactory() *Factory {
	return &Factory{}
}

// NewRepairer implements output.RepairerFactory.
func (f *Factory) NewRepairer() (output.GeometryRepairer, error) {
	return &Repairer{ctx: geos.NewContext()}, nil
}

// Repairer implements output.GeometryRepairer. It is not safe for
// concurrent use.
type Repairer struct {
	ctx *geos.Context
}

// MakeValid implements output.GeometryRepairer.
func (r *Repairer) MakeValid(g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if r.ctx == nil {
		return nil, fmt.Errorf("repairer closed: %w", domain.ErrInvalidInput)
	}

	closed := domain.CloseRings(g)
	if domain.IsEmptyGeometry(closed) {
		return closed, nil
	}

	data, err := wkb.Marshal(closed)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", g.GeoJSONType(), err)
	}
	geom, err := r.ctx.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", g.GeoJSONType(), err)
	}
	defer geom.Destroy()

	if geom.IsValid() {
		return closed, nil
	}

	repaired := geom.MakeValidWithParams(geos.MakeValidStructure, geos.MakeValidDiscardCollapsed)
	if repaired == nil {
		return nil, fmt.Errorf("repairing %s: %w", g.GeoJSONType(), domain.ErrUnsupportedGeometry)
	}
	defer repaired.Destroy()

	if repaired.IsEmpty() {
		return emptyOf(g), nil
	}

	out, err := wkb.Unmarshal(repaired.ToWKB())
	if err != nil {
		return nil, fmt.Errorf("decoding repaired %s: %w", g.GeoJSONType(), err)
	}
	return keepDimension(out, g.Dimensions()), nil
}

// IsAcceptable implements output.GeometryRepairer.
func (r *Repairer) IsAcceptable(original, repaired orb.Geometry) bool {
	if original == nil || repaired == nil {
		return original == nil && repaired == nil
	}
	if domain.IsEmptyGeometry(repaired) {
		return false
	}
	return repaired.Dimensions() == original.Dimensions()
}

// Close implements output.GeometryRepairer.
func (r *Repairer) Close() error {
	r.ctx = nil
	return nil
}

// keepDimension drops collection members of another dimension, collapsing
// the rest into the matching multi type.
func keepDimension(g orb.Geometry, dim int) orb.Geometry {
	c, ok := g.(orb.Collection)
	if !ok {
		return g
	}

	var (
		points   orb.MultiPoint
		lines    orb.MultiLineString
		polygons orb.MultiPolygon
	)
	var walk func(orb.Geometry)
	walk = func(g orb.Geometry) {
		if g.Dimensions() != dim && g.GeoJSONType() != "GeometryCollection" {
			return
		}
		switch v := g.(type) {
		case orb.Point:
			points = append(points, v)
		case orb.MultiPoint:
			points = append(points, v...)
		case orb.LineString:
			lines = append(lines, v)
		case orb.MultiLineString:
			lines = append(lines, v...)
		case orb.Polygon:
			polygons = append(polygons, v)
		case orb.MultiPolygon:
			polygons = append(polygons, v...)
		case orb.Collection:
			for _, member := range v {
				walk(member)
			}
		}
	}
	walk(c)

	switch dim {
	case 0:
		if len(points) == 1 {
			return points[0]
		}
		return points
	case 1:
		if len(lines) == 1 {
			return lines[0]
		}
		return lines
	default:
		if len(polygons) == 1 {
			return polygons[0]
		}
		return polygons
	}
}

func emptyOf(g orb.Geometry) orb.Geometry {
	switch g.Dimensions() {
	case 0:
		return orb.MultiPoint{}
	case 1:
		return orb.MultiLineString{}
	default:
		return orb.MultiPolygon{}
	}
}
