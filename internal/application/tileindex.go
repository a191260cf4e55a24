package application

import (
	"fmt"

	"github.com/jobrunner/geosplit/internal/domain"
)

// RasterTileIndex maps block indices to pixel windows. Blocks are numbered
// row-major over the raster's native block grid.
type RasterTileIndex struct {
	meta   domain.RasterMetadata
	band   int
	across int64
	down   int64
}

// NewRasterTileIndex creates an index for one band of a raster.
func NewRasterTileIndex(meta domain.RasterMetadata, band int) (*RasterTileIndex, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if band < 1 || band > meta.BandCount {
		return nil, &domain.ConfigError{
			Field:   "band_number",
			Message: fmt.Sprintf("band %d outside 1..%d", band, meta.BandCount),
		}
	}
	return &RasterTileIndex{
		meta:   meta,
		band:   band,
		across: int64(meta.BlocksAcross()),
		down:   int64(meta.BlocksDown()),
	}, nil
}

// BlockCount returns the number of blocks.
func (ix *RasterTileIndex) BlockCount() int64 {
	return ix.across * ix.down
}

// Window returns the pixel window of block i, clipped to the raster.
func (ix *RasterTileIndex) Window(i int64) (domain.RasterWindow, error) {
	if i < 0 || i >= ix.BlockCount() {
		return domain.RasterWindow{}, fmt.Errorf("block %d outside [0, %d): %w", i, ix.BlockCount(), domain.ErrInvalidRange)
	}

	col := int(i % ix.across)
	row := int(i / ix.across)
	x := col * ix.meta.BlockWidth
	y := row * ix.meta.BlockHeight

	return domain.RasterWindow{
		Band:   ix.band,
		PixelX: x,
		PixelY: y,
		Width:  min(ix.meta.BlockWidth, ix.meta.Width-x),
		Height: min(ix.meta.BlockHeight, ix.meta.Height-y),
	}, nil
}

// EstimatedSize returns the approximate bytes of the indexed band.
func (ix *RasterTileIndex) EstimatedSize() int64 {
	return ix.BlockCount() * ix.meta.BytesPerBlock()
}

// InitialRanges partitions [0, BlockCount) into ranges of roughly
// desiredBundleSize bytes, each holding at least one block.
func (ix *RasterTileIndex) InitialRanges(desiredBundleSize int64) []domain.Range {
	parts := domain.PartsForBundle(ix.EstimatedSize(), desiredBundleSize)
	return domain.SplitEvenly(ix.BlockCount(), parts)
}

// Metadata returns the indexed raster's metadata.
func (ix *RasterTileIndex) Metadata() domain.RasterMetadata {
	return ix.meta
}

// Band returns the 1-based band number.
func (ix *RasterTileIndex) Band() int {
	return ix.band
}
