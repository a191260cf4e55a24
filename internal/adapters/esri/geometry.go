package esri

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

// esriGeometry covers every ESRI JSON geometry shape. Coordinates may carry
// z and m values, which are dropped.
type esriGeometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
	XMin   *float64      `json:"xmin"`
	YMin   *float64      `json:"ymin"`
	XMax   *float64      `json:"xmax"`
	YMax   *float64      `json:"ymax"`
}

// decodeGeometry converts ESRI JSON to orb. Missing, null and empty
// geometries are nil.
func decodeGeometry(raw json.RawMessage) (orb.Geometry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	var g esriGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}

	_, hasX := members["x"]
	switch {
	case hasX:
		if g.X == nil || g.Y == nil || math.IsNaN(*g.X) || math.IsNaN(*g.Y) {
			return nil, nil
		}
		return orb.Point{*g.X, *g.Y}, nil
	case g.Points != nil:
		mp := make(orb.MultiPoint, 0, len(g.Points))
		for _, c := range g.Points {
			p, err := point(c)
			if err != nil {
				return nil, err
			}
			mp = append(mp, p)
		}
		if len(mp) == 0 {
			return nil, nil
		}
		return mp, nil
	case g.Paths != nil:
		lines := make(orb.MultiLineString, 0, len(g.Paths))
		for _, path := range g.Paths {
			ls, err := points(path)
			if err != nil {
				return nil, err
			}
			lines = append(lines, orb.LineString(ls))
		}
		switch len(lines) {
		case 0:
			return nil, nil
		case 1:
			return lines[0], nil
		}
		return lines, nil
	case g.Rings != nil:
		rings := make([]orb.Ring, 0, len(g.Rings))
		for _, r := range g.Rings {
			ring, err := points(r)
			if err != nil {
				return nil, err
			}
			rings = append(rings, orb.Ring(ring))
		}
		if len(rings) == 0 {
			return nil, nil
		}
		return domain.AssemblePolygons(rings), nil
	case g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil:
		return orb.Bound{Min: orb.Point{*g.XMin, *g.YMin}, Max: orb.Point{*g.XMax, *g.YMax}}.ToPolygon(), nil
	}
	return nil, fmt.Errorf("unrecognised geometry %s: %w", truncate(raw), domain.ErrUnsupportedGeometry)
}

func point(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, fmt.Errorf("coordinate with %d values: %w", len(c), domain.ErrInvalidInput)
	}
	return orb.Point{c[0], c[1]}, nil
}

func points(cs [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(cs))
	for _, c := range cs {
		p, err := point(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func truncate(raw json.RawMessage) string {
	if len(raw) > 64 {
		return string(raw[:64]) + "..."
	}
	return string(raw)
}

func geometryType(esriType string) domain.GeometryType {
	switch esriType {
	case "esriGeometryPoint":
		return domain.GeomPoint
	case "esriGeometryMultipoint":
		return domain.GeomMultiPoint
	case "esriGeometryPolyline":
		return domain.GeomMultiLineString
	case "esriGeometryPolygon", "esriGeometryEnvelope":
		return domain.GeomMultiPolygon
	}
	return ""
}
