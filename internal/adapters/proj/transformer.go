// Package proj implements coordinate transformation using PROJ.
package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Factory creates PROJ transformers. Each transformer owns its own PROJ
// context so readers never share native state.
type Factory struct{}

// NewFactory creates a new transformer factory.
func NewFactory() *Factory {
	return &Factory{}
}

// NewTransformer implements output.TransformerFactory.
func (f *Factory) NewTransformer(source, target domain.CRS) (output.CoordinateTransformer, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	ctx := proj.NewContext()
	pj, err := ctx.NewCRSToCRS(source.String(), target.String(), nil)
	if err != nil {
		return nil, &domain.ConfigError{
			Field:   "crs",
			Message: fmt.Sprintf("cannot build transformation %s -> %s: %v", source, target, err),
		}
	}

	// Axis order x=lon/easting, y=lat/northing regardless of CRS definition
	normalized, err := pj.NormalizeForVisualization()
	if err != nil {
		pj.Destroy()
		return nil, fmt.Errorf("normalizing transformation %s -> %s: %w", source, target, err)
	}
	pj.Destroy()

	return &Transformer{
		source: source,
		target: target,
		ctx:    ctx,
		pj:     normalized,
	}, nil
}

// Transformer implements output.CoordinateTransformer with one PROJ
// transformation object.
type Transformer struct {
	source domain.CRS
	target domain.CRS
	ctx    *proj.Context
	pj     *proj.PJ
}

// TransformPoint implements output.CoordinateTransformer.
func (t *Transformer) TransformPoint(x, y float64) (float64, float64, error) {
	out, err := t.pj.Forward(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, fmt.Errorf("transforming (%g, %g) from %s: %w", x, y, t.source, err)
	}
	if math.IsInf(out[0], 0) || math.IsInf(out[1], 0) || math.IsNaN(out[0]) || math.IsNaN(out[1]) {
		return 0, 0, fmt.Errorf("transforming (%g, %g) from %s: %w", x, y, t.source, domain.ErrInvalidInput)
	}
	return out[0], out[1], nil
}

// TransformGeometry implements output.CoordinateTransformer.
func (t *Transformer) TransformGeometry(g orb.Geometry) (orb.Geometry, error) {
	return domain.MapPoints(g, func(p orb.Point) (orb.Point, error) {
		x, y, err := t.TransformPoint(p[0], p[1])
		return orb.Point{x, y}, err
	})
}

// InversePoint implements output.CoordinateTransformer.
func (t *Transformer) InversePoint(x, y float64) (float64, float64, error) {
	out, err := t.pj.Inverse(proj.NewCoord(x, y, 0, 0))
	if err != nil {
		return 0, 0, fmt.Errorf("inverse transforming (%g, %g) to %s: %w", x, y, t.source, err)
	}
	return out[0], out[1], nil
}

// IsIdentity implements output.CoordinateTransformer.
func (t *Transformer) IsIdentity() bool {
	return false
}

// Close implements output.CoordinateTransformer.
func (t *Transformer) Close() error {
	if t.pj != nil {
		t.pj.Destroy()
		t.pj = nil
	}
	t.ctx = nil
	return nil
}
