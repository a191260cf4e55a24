package output

import (
	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

// CoordinateTransformer converts coordinates from a source CRS to a target
// CRS. One instance belongs to one reader and is not shared.
type CoordinateTransformer interface {
	// TransformPoint converts a single position.
	TransformPoint(x, y float64) (float64, float64, error)

	// TransformGeometry returns a transformed copy of g.
	TransformGeometry(g orb.Geometry) (orb.Geometry, error)

	// InversePoint converts a target position back to the source CRS.
	InversePoint(x, y float64) (float64, float64, error)

	// IsIdentity returns true if coordinates pass through unchanged.
	IsIdentity() bool

	// Close releases native resources.
	Close() error
}

// TransformerFactory builds transformers between two resolved CRSs.
type TransformerFactory interface {
	NewTransformer(source, target domain.CRS) (CoordinateTransformer, error)
}

// GeometryRepairer validates and repairs geometries before emission. One
// instance belongs to one reader.
type GeometryRepairer interface {
	// MakeValid returns g when it is valid, otherwise a repaired copy.
	MakeValid(g orb.Geometry) (orb.Geometry, error)

	// IsAcceptable reports whether a repaired geometry may be emitted for
	// an input of the given type.
	IsAcceptable(original, repaired orb.Geometry) bool

	// Close releases native resources.
	Close() error
}

// RepairerFactory creates per-reader repairers.
type RepairerFactory interface {
	NewRepairer() (GeometryRepairer, error)
}
