package domain

import "fmt"

// GeoTransform maps pixel space to CRS space (GDAL ordering):
// X = gt[0] + px*gt[1] + py*gt[2], Y = gt[3] + px*gt[4] + py*gt[5].
type GeoTransform [6]float64

// Apply converts fractional pixel coordinates to CRS coordinates.
func (gt GeoTransform) Apply(px, py float64) (float64, float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// IsZero returns true if the transform is unset.
func (gt GeoTransform) IsZero() bool {
	return gt == GeoTransform{}
}

// RasterMetadata is read once per dataset.
type RasterMetadata struct {
	Width          int          // Pixels
	Height         int          // Pixels
	BlockWidth     int          // Native block width (tile or strip)
	BlockHeight    int          // Native block height
	BandCount      int          // Number of bands
	BytesPerSample int          // Storage size of one sample
	NoData         float64      // Nodata value
	HasNoData      bool         // Whether NoData is set
	CRS            CRS          // Embedded CRS, zero if absent
	GeoTransform   GeoTransform // Pixel to CRS mapping
}

// Validate checks the metadata for a readable raster.
func (m RasterMetadata) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("raster size %dx%d: %w", m.Width, m.Height, ErrInvalidInput)
	}
	if m.BlockWidth <= 0 || m.BlockHeight <= 0 {
		return fmt.Errorf("block size %dx%d: %w", m.BlockWidth, m.BlockHeight, ErrInvalidInput)
	}
	if m.BandCount <= 0 {
		return fmt.Errorf("band count %d: %w", m.BandCount, ErrInvalidInput)
	}
	return nil
}

// BlocksAcross returns the number of block columns.
func (m RasterMetadata) BlocksAcross() int {
	return (m.Width + m.BlockWidth - 1) / m.BlockWidth
}

// BlocksDown returns the number of block rows.
func (m RasterMetadata) BlocksDown() int {
	return (m.Height + m.BlockHeight - 1) / m.BlockHeight
}

// BytesPerBlock estimates the bytes of one full block of one band.
func (m RasterMetadata) BytesPerBlock() int64 {
	bps := m.BytesPerSample
	if bps <= 0 {
		bps = 1
	}
	return int64(m.BlockWidth) * int64(m.BlockHeight) * int64(bps)
}

// RasterWindow is a rectangle of pixels in one band.
type RasterWindow struct {
	Band   int // 1-based band number
	PixelX int // Column offset
	PixelY int // Row offset
	Width  int // Columns
	Height int // Rows
}

// PixelCount returns the number of pixels in the window.
func (w RasterWindow) PixelCount() int {
	return w.Width * w.Height
}

// String returns a string representation of the window.
func (w RasterWindow) String() string {
	return fmt.Sprintf("band %d [%d,%d %dx%d]", w.Band, w.PixelX, w.PixelY, w.Width, w.Height)
}
