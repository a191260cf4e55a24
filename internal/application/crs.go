package application

import (
	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// ResolveSourceCRS picks the source CRS: an explicit override wins over the
// CRS embedded in the file. Neither present is an error.
func ResolveSourceCRS(opts domain.SourceOptions, embedded domain.CRS, source string) (domain.CRS, error) {
	if crs, ok := opts.SourceOverride(); ok {
		return crs, nil
	}
	if !embedded.IsZero() {
		return embedded, nil
	}
	return domain.CRS{}, &domain.CRSUndeterminedError{Source: source}
}

// NewCoordinateTransformer builds the transformer a reader uses for its
// whole lifetime.
func NewCoordinateTransformer(
	factory output.TransformerFactory,
	opts domain.SourceOptions,
	embedded domain.CRS,
	source string,
) (output.CoordinateTransformer, error) {
	if opts.SkipReproject {
		return IdentityTransformer{}, nil
	}

	src, err := ResolveSourceCRS(opts, embedded, source)
	if err != nil {
		return nil, err
	}
	target := opts.Target()
	if src.Equal(target) {
		return IdentityTransformer{}, nil
	}
	return factory.NewTransformer(src, target)
}

// IdentityTransformer passes coordinates through unchanged.
type IdentityTransformer struct{}

// TransformPoint implements output.CoordinateTransformer.
func (IdentityTransformer) TransformPoint(x, y float64) (float64, float64, error) {
	return x, y, nil
}

// TransformGeometry implements output.CoordinateTransformer.
func (IdentityTransformer) TransformGeometry(g orb.Geometry) (orb.Geometry, error) {
	return g, nil
}

// InversePoint implements output.CoordinateTransformer.
func (IdentityTransformer) InversePoint(x, y float64) (float64, float64, error) {
	return x, y, nil
}

// IsIdentity implements output.CoordinateTransformer.
func (IdentityTransformer) IsIdentity() bool { return true }

// Close implements output.CoordinateTransformer.
func (IdentityTransformer) Close() error { return nil }
