package domain

import "github.com/paulmach/orb"

// Feature is a vector feature as decoded from a layer, before
// reprojection and repair.
type Feature struct {
	Index      int64                  // Position in the layer's addressable space
	ID         interface{}            // Native identifier (fid, OBJECTID, GeoJSON id)
	Geometry   orb.Geometry           // Geometry in the source CRS, may be nil
	Properties map[string]interface{} // Attribute data
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (interface{}, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// GetStringProperty returns a property as string.
func (f *Feature) GetStringProperty(key string) string {
	if v, ok := f.GetProperty(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetIntProperty returns a property as int64.
func (f *Feature) GetIntProperty(key string) int64 {
	if v, ok := f.GetProperty(key); ok {
		switch i := v.(type) {
		case int:
			return int64(i)
		case int32:
			return int64(i)
		case int64:
			return i
		case float64:
			return int64(i)
		}
	}
	return 0
}

// GetFloatProperty returns a property as float64.
func (f *Feature) GetFloatProperty(key string) float64 {
	if v, ok := f.GetProperty(key); ok {
		switch i := v.(type) {
		case float64:
			return i
		case float32:
			return float64(i)
		case int:
			return float64(i)
		case int64:
			return float64(i)
		}
	}
	return 0
}

// HasGeometry returns true if the feature carries a geometry.
func (f *Feature) HasGeometry() bool {
	return f.Geometry != nil
}

// GeometryType names the geometry kinds emitted by sources.
type GeometryType string

// Geometry type constants.
const (
	GeomPoint              GeometryType = "Point"
	GeomLineString         GeometryType = "LineString"
	GeomPolygon            GeometryType = "Polygon"
	GeomMultiPoint         GeometryType = "MultiPoint"
	GeomMultiLineString    GeometryType = "MultiLineString"
	GeomMultiPolygon       GeometryType = "MultiPolygon"
	GeomGeometryCollection GeometryType = "GeometryCollection"
)

// TypeOf returns the geometry type of g.
func TypeOf(g orb.Geometry) GeometryType {
	if g == nil {
		return ""
	}
	return GeometryType(g.GeoJSONType())
}
