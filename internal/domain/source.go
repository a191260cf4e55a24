package domain

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// FormatKind identifies the reader family for a source.
type FormatKind string

// Supported format kinds.
const (
	KindRaster       FormatKind = "raster"
	KindShapefile    FormatKind = "shapefile"
	KindGeodatabase  FormatKind = "geodatabase"
	KindGeoJSON      FormatKind = "geojson"
	KindESRIService  FormatKind = "esri-service"
	KindGeoPackage   FormatKind = "geopackage"
	kindUndetermined FormatKind = ""
)

// FormatKinds lists all supported kinds.
var FormatKinds = []FormatKind{
	KindRaster, KindShapefile, KindGeodatabase, KindGeoJSON, KindESRIService, KindGeoPackage,
}

// ParseFormatKind parses a kind name.
func ParseFormatKind(s string) (FormatKind, error) {
	k := FormatKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range FormatKinds {
		if k == known {
			return k, nil
		}
	}
	return kindUndetermined, fmt.Errorf("kind %q: %w", s, ErrUnsupportedFormat)
}

// DetectFormatKind guesses the kind from a URI. Zip archives are ambiguous
// and must be given an explicit kind.
func DetectFormatKind(uri string) (FormatKind, bool) {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		p = u.Path
		lower := strings.ToLower(p)
		if strings.Contains(lower, "/featureserver/") || strings.Contains(lower, "/mapserver/") {
			return KindESRIService, true
		}
	}

	switch strings.ToLower(path.Ext(strings.TrimSuffix(p, "/"))) {
	case ".tif", ".tiff":
		return KindRaster, true
	case ".shp":
		return KindShapefile, true
	case ".gdb":
		return KindGeodatabase, true
	case ".geojson", ".json":
		return KindGeoJSON, true
	case ".gpkg":
		return KindGeoPackage, true
	}
	return kindUndetermined, false
}

// SourceDescriptor names a source. It is immutable once built.
type SourceDescriptor struct {
	URI    string     `mapstructure:"uri" yaml:"uri"`
	Kind   FormatKind `mapstructure:"kind" yaml:"kind"`
	Layer  string     `mapstructure:"layer" yaml:"layer,omitempty"`
	Member string     `mapstructure:"member" yaml:"member,omitempty"`
}

// Validate checks the descriptor.
func (d SourceDescriptor) Validate() error {
	if strings.TrimSpace(d.URI) == "" {
		return &ConfigError{Field: "uri", Message: "source URI is required"}
	}
	if _, err := ParseFormatKind(string(d.Kind)); err != nil {
		return &ConfigError{Field: "kind", Message: err.Error()}
	}
	return nil
}

// String returns a short label for logs and metrics.
func (d SourceDescriptor) String() string {
	return fmt.Sprintf("%s:%s", d.Kind, d.URI)
}

// LayerInfo describes a vector layer once it has been opened.
type LayerInfo struct {
	Name         string       // Layer name
	GeometryType GeometryType // Declared geometry type, empty if mixed
	CRS          CRS          // Embedded CRS, zero if the file carries none
	FeatureCount int64        // Number of addressable features
	SizeBytes    int64        // Approximate byte size, -1 if unknown
}

// HasCRS returns true if the layer carries its own CRS.
func (l LayerInfo) HasCRS() bool {
	return !l.CRS.IsZero()
}

// LayerSelector picks a layer inside a container (zip, .gdb, GeoPackage).
type LayerSelector struct {
	Layer  string // layer_name
	Member string // gdb_name or zip member
}

// ServiceInfo describes a remote feature service layer.
type ServiceInfo struct {
	Name           string       // Layer name
	ObjectIDField  string       // Field used to order pages
	MaxRecordCount int          // Server-side page cap
	GeometryType   GeometryType // Declared geometry type
	CRS            CRS          // Service spatial reference
}
