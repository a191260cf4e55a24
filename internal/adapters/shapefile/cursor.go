package shapefile

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

// cursor walks records of one shapefile reader.
type cursor struct {
	reader *shp.Reader
	fields []shp.Field
	next   int64
}

// Next implements output.FeatureCursor.
func (c *cursor) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if !c.reader.Next() {
		if err := c.reader.Err(); err != nil && err != io.EOF {
			return domain.Feature{}, fmt.Errorf("reading record %d: %w", c.next, err)
		}
		return domain.Feature{}, io.EOF
	}

	row, shape := c.reader.Shape()
	index := c.next
	c.next++

	f := domain.Feature{
		Index:      index,
		ID:         int64(row),
		Properties: c.attributes(row),
	}
	geom, err := toGeometry(shape)
	if err != nil {
		return domain.Feature{Index: index}, fmt.Errorf("record %d: %w: %w", index, domain.ErrFeatureUnreadable, err)
	}
	f.Geometry = geom
	return f, nil
}

// Close implements output.FeatureCursor.
func (c *cursor) Close() error {
	return c.reader.Close()
}

func (c *cursor) attributes(row int) map[string]interface{} {
	props := make(map[string]interface{}, len(c.fields))
	for i, field := range c.fields {
		props[field.String()] = attributeValue(field, c.reader.ReadAttribute(row, i))
	}
	return props
}

// attributeValue converts a dbf cell by field type. Blank cells are nil.
func attributeValue(field shp.Field, raw string) interface{} {
	s := strings.TrimSpace(raw)
	switch field.Fieldtype {
	case 'N':
		if s == "" || strings.Trim(s, "*") == "" {
			return nil
		}
		if field.Precision == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case 'F':
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case 'L':
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	case 'D':
		if s == "" {
			return nil
		}
		if len(s) == 8 {
			return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
		}
		return s
	}
	return strings.TrimRight(raw, " \x00")
}

// toGeometry converts a go-shp shape to orb. Null shapes have no geometry.
func toGeometry(shape shp.Shape) (orb.Geometry, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(s.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(s.Points), nil
	case *shp.MultiPointM:
		return multiPoint(s.Points), nil
	case *shp.PolyLine:
		return lines(s.Parts, s.Points), nil
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points), nil
	case *shp.PolyLineM:
		return lines(s.Parts, s.Points), nil
	case *shp.Polygon:
		return polygons(s.Parts, s.Points), nil
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points), nil
	case *shp.PolygonM:
		return polygons(s.Parts, s.Points), nil
	}
	return nil, fmt.Errorf("shape type %T: %w", shape, domain.ErrUnsupportedGeometry)
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	out := make(orb.MultiPoint, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

// split cuts points into parts at the given start offsets.
func split(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func lines(parts []int32, points []shp.Point) orb.Geometry {
	ps := split(parts, points)
	if len(ps) == 1 {
		return orb.LineString(ps[0])
	}
	out := make(orb.MultiLineString, len(ps))
	for i, part := range ps {
		out[i] = orb.LineString(part)
	}
	return out
}

func polygons(parts []int32, points []shp.Point) orb.Geometry {
	ps := split(parts, points)
	rings := make([]orb.Ring, len(ps))
	for i, part := range ps {
		rings[i] = orb.Ring(part)
	}
	return domain.AssemblePolygons(rings)
}
