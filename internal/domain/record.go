package domain

import "github.com/paulmach/orb"

// Attribute keys set on raster records.
const (
	AttrValue   = "value"
	AttrBand    = "band"
	AttrPixelX  = "pixel_x"
	AttrPixelY  = "pixel_y"
	AttrBlock   = "block"
	AttrGeohash = "geohash"
)

// GeoRecord is the unit a reader emits: a geometry in the target CRS plus
// attributes. Records are not modified after emission.
type GeoRecord struct {
	Position   int64                  // Claimed position that produced the record
	Attributes map[string]interface{} // Attribute data
	Geometry   orb.Geometry           // Geometry in the target CRS
}

// Attribute returns an attribute value by key.
func (r GeoRecord) Attribute(key string) (interface{}, bool) {
	if r.Attributes == nil {
		return nil, false
	}
	v, ok := r.Attributes[key]
	return v, ok
}

// ReadStats summarizes what a reader emitted and dropped.
type ReadStats struct {
	Records int64            // Records emitted
	Defects map[string]int64 // Dropped records or units by defect kind
}

// DefectCount returns the total number of defects.
func (s ReadStats) DefectCount() int64 {
	var n int64
	for _, c := range s.Defects {
		n += c
	}
	return n
}

// Defect kinds reported through metrics and ReadStats.
const (
	DefectGeometryInvalid   = "geometry_invalid"
	DefectGeometryTransform = "geometry_transform"
	DefectBlockUnreadable   = "block_unreadable"
	DefectFeatureUnreadable = "feature_unreadable"
	DefectPageMalformed     = "page_malformed"
)
