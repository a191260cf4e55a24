package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// MapPoints returns a copy of g with fn applied to every vertex. The
// structure (rings, parts, members) is preserved and g is left untouched.
func MapPoints(g orb.Geometry, fn func(orb.Point) (orb.Point, error)) (orb.Geometry, error) {
	switch geom := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		return fn(geom)
	case orb.MultiPoint:
		out, err := mapPointSlice(geom, fn)
		return orb.MultiPoint(out), err
	case orb.LineString:
		out, err := mapPointSlice(geom, fn)
		return orb.LineString(out), err
	case orb.Ring:
		out, err := mapPointSlice(geom, fn)
		return orb.Ring(out), err
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(geom))
		for i, ls := range geom {
			pts, err := mapPointSlice(ls, fn)
			if err != nil {
				return nil, err
			}
			out[i] = pts
		}
		return out, nil
	case orb.Polygon:
		return mapPolygon(geom, fn)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(geom))
		for i, p := range geom {
			poly, err := mapPolygon(p, fn)
			if err != nil {
				return nil, err
			}
			out[i] = poly
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(geom))
		for i, member := range geom {
			m, err := MapPoints(member, fn)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case orb.Bound:
		return MapPoints(geom.ToPolygon(), fn)
	}
	return nil, fmt.Errorf("%T: %w", g, ErrUnsupportedGeometry)
}

func mapPointSlice(pts []orb.Point, fn func(orb.Point) (orb.Point, error)) ([]orb.Point, error) {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		q, err := fn(p)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func mapPolygon(p orb.Polygon, fn func(orb.Point) (orb.Point, error)) (orb.Polygon, error) {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		pts, err := mapPointSlice(r, fn)
		if err != nil {
			return nil, err
		}
		out[i] = pts
	}
	return out, nil
}

// CloseRings returns g with every open polygon ring closed by repeating its
// first vertex. It returns g itself when nothing needed closing.
func CloseRings(g orb.Geometry) orb.Geometry {
	switch geom := g.(type) {
	case orb.Polygon:
		if polygonClosed(geom) {
			return geom
		}
		return closePolygon(geom)
	case orb.MultiPolygon:
		closed := true
		for _, p := range geom {
			closed = closed && polygonClosed(p)
		}
		if closed {
			return geom
		}
		out := make(orb.MultiPolygon, len(geom))
		for i, p := range geom {
			out[i] = closePolygon(p)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(geom))
		for i, member := range geom {
			out[i] = CloseRings(member)
		}
		return out
	}
	return g
}

func polygonClosed(p orb.Polygon) bool {
	for _, r := range p {
		if len(r) > 0 && !r.Closed() {
			return false
		}
	}
	return true
}

func closePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		ring := append(orb.Ring(nil), r...)
		if len(ring) > 0 && !ring.Closed() {
			ring = append(ring, ring[0])
		}
		out[i] = ring
	}
	return out
}

// IsEmptyGeometry returns true if g has no vertices.
func IsEmptyGeometry(g orb.Geometry) bool {
	switch geom := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(geom) == 0
	case orb.LineString:
		return len(geom) == 0
	case orb.Ring:
		return len(geom) == 0
	case orb.MultiLineString:
		for _, ls := range geom {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Polygon:
		return len(geom) == 0 || len(geom[0]) == 0
	case orb.MultiPolygon:
		for _, p := range geom {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, member := range geom {
			if !IsEmptyGeometry(member) {
				return false
			}
		}
		return true
	}
	return false
}

// AssemblePolygons groups rings that follow the clockwise-shell convention
// of shapefiles and ESRI JSON: clockwise rings are shells, counter-clockwise
// rings are holes of the first shell containing them. Holes outside every
// shell become shells. A single polygon is returned as orb.Polygon.
func AssemblePolygons(rings []orb.Ring) orb.Geometry {
	var out orb.MultiPolygon
	var holes []orb.Ring
	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		out = append(out, orb.Polygon{ring})
	}

	for _, hole := range holes {
		placed := false
		for i := range out {
			if planar.RingContains(out[i][0], hole[0]) {
				out[i] = append(out[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, orb.Polygon{hole})
		}
	}

	if len(out) == 1 {
		return out[0]
	}
	return out
}
