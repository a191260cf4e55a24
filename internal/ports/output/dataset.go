package output

import (
	"context"

	"github.com/jobrunner/geosplit/internal/domain"
)

// RasterDataset gives block-wise access to a raster.
type RasterDataset interface {
	// Metadata returns the dataset metadata.
	Metadata() domain.RasterMetadata

	// ReadWindow returns the samples of a block-aligned window, row-major,
	// window.Width*window.Height values.
	ReadWindow(ctx context.Context, window domain.RasterWindow) ([]float64, error)

	// Close releases the handle.
	Close() error
}

// RasterOpener opens raster datasets from local paths.
type RasterOpener interface {
	OpenRaster(ctx context.Context, path string) (RasterDataset, error)
}

// FeatureLayer is an opened vector layer.
type FeatureLayer interface {
	// Info returns the layer description.
	Info() domain.LayerInfo

	// Cursor returns a forward cursor whose first feature has index start.
	Cursor(ctx context.Context, start int64) (FeatureCursor, error)

	// Close releases the handle and any extracted files.
	Close() error
}

// FeatureCursor walks features in index order.
//
// Next returns io.EOF after the last feature. An error wrapping
// domain.ErrFeatureUnreadable concerns only that feature; the cursor has
// moved past it and may be advanced again.
type FeatureCursor interface {
	Next(ctx context.Context) (domain.Feature, error)
	Close() error
}

// FeatureLayerOpener opens a layer from a local path.
type FeatureLayerOpener interface {
	OpenLayer(ctx context.Context, path string, sel domain.LayerSelector) (FeatureLayer, error)
}

// FeaturePage is one page of a paginated feature service.
type FeaturePage struct {
	Features              []domain.Feature
	ExceededTransferLimit bool
}

// FeatureService is a remote, paginated feature layer.
type FeatureService interface {
	// Describe fetches layer metadata.
	Describe(ctx context.Context) (domain.ServiceInfo, error)

	// Count returns the number of features.
	Count(ctx context.Context) (int64, error)

	// Page fetches limit features starting at offset, ordered by the
	// object id field. Malformed responses wrap domain.ErrMalformedResponse;
	// exhausted retries wrap domain.ErrTransient.
	Page(ctx context.Context, offset, limit int64) (FeaturePage, error)
}

// FeatureServiceFactory connects to a feature service URL.
type FeatureServiceFactory interface {
	NewService(url string) (FeatureService, error)
}
