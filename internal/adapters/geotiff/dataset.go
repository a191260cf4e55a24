package geotiff

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

const blockCacheTTL = 10 * time.Minute

// Dataset implements output.RasterDataset over the first image of a
// GeoTIFF file.
type Dataset struct {
	name   string
	reader io.ReaderAt
	closer io.Closer
	layout layout
	meta   domain.RasterMetadata

	tiled        bool
	blockOffsets []uint64
	blockCounts  []uint64

	// decoded blocks per band, keyed by name, band and block index
	cache    *ccache.Cache[[]float64]
	inflight *singleflight.Group
}

var _ output.RasterDataset = (*Dataset)(nil)

// Open parses the GeoTIFF header and directory from r. cache may be nil.
func Open(r io.ReaderAt, name string, cache *ccache.Cache[[]float64]) (*Dataset, error) {
	t, h, err := readTags(r)
	if err != nil {
		return nil, fmt.Errorf("reading tiff tags of %s: %w", name, err)
	}

	d := &Dataset{
		name:     name,
		reader:   r,
		cache:    cache,
		inflight: &singleflight.Group{},
	}

	// Image size
	width, okW := t.uint(ImageWidth)
	height, okH := t.uint(ImageLength)
	if !okW || !okH || width == 0 || height == 0 {
		return nil, fmt.Errorf("%s: missing image size: %w", name, domain.ErrUnsupportedFormat)
	}

	// Sample layout
	d.layout = layout{
		order:           h.order,
		compression:     t.uintOr(Compression, compressionNone),
		predictor:       t.uintOr(Predictor, predictorNone),
		sampleFormat:    t.uintOr(SampleFormat, sampleFormatUint),
		bitsPerSample:   t.uintOr(BitsPerSample, 1),
		samplesPerPixel: int(t.uintOr(SamplesPerPixel, 1)),
		planar:          t.uintOr(PlanarConfiguration, planarChunky),
	}
	if d.layout.samplesPerPixel == 1 {
		d.layout.planar = planarChunky
	}
	if err := d.layout.validate(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, domain.ErrUnsupportedFormat)
	}

	// Block layout: tiles or strips
	var blockW, blockH uint64
	if tw, ok := t.uint(TileWidth); ok {
		th, _ := t.uint(TileLength)
		d.tiled = true
		blockW, blockH = tw, th
		d.blockOffsets, _ = t.uints(TileOffsets)
		d.blockCounts, _ = t.uints(TileByteCounts)
	} else {
		blockW = width
		blockH = min(t.uintOr(RowsPerStrip, height), height)
		d.blockOffsets, _ = t.uints(StripOffsets)
		d.blockCounts, _ = t.uints(StripByteCounts)
	}
	if blockW == 0 || blockH == 0 || blockW*blockH*uint64(d.layout.samplesPerPixel) > math.MaxInt32 {
		return nil, fmt.Errorf("%s: block size %dx%d: %w", name, blockW, blockH, domain.ErrUnsupportedFormat)
	}

	d.meta = domain.RasterMetadata{
		Width:          int(width),
		Height:         int(height),
		BlockWidth:     int(blockW),
		BlockHeight:    int(blockH),
		BandCount:      d.layout.samplesPerPixel,
		BytesPerSample: d.layout.bytesPerSample(),
	}

	blocks := d.meta.BlocksAcross() * d.meta.BlocksDown()
	if d.layout.planar == planarSeparate {
		blocks *= d.layout.samplesPerPixel
	}
	if len(d.blockOffsets) < blocks || len(d.blockCounts) < blocks {
		return nil, fmt.Errorf("%s: %d block offsets for %d blocks: %w", name, len(d.blockOffsets), blocks, domain.ErrUnsupportedFormat)
	}

	// Georeferencing
	keys := geoKeys(t)
	d.meta.CRS = crsFromKeys(keys)
	if gt, err := geoTransform(t, keys); err == nil {
		d.meta.GeoTransform = gt
	} else {
		d.meta.GeoTransform = domain.GeoTransform{0, 1, 0, 0, 0, 1}
	}
	d.meta.NoData, d.meta.HasNoData = noData(t)

	return d, nil
}

// Metadata implements output.RasterDataset.
func (d *Dataset) Metadata() domain.RasterMetadata {
	return d.meta
}

// ReadWindow implements output.RasterDataset. The window may span several
// blocks.
func (d *Dataset) ReadWindow(ctx context.Context, w domain.RasterWindow) ([]float64, error) {
	if w.Band < 1 || w.Band > d.meta.BandCount {
		return nil, fmt.Errorf("band %d of %d: %w", w.Band, d.meta.BandCount, domain.ErrBandOutOfRange)
	}
	if w.PixelX < 0 || w.PixelY < 0 || w.Width <= 0 || w.Height <= 0 ||
		w.PixelX+w.Width > d.meta.Width || w.PixelY+w.Height > d.meta.Height {
		return nil, fmt.Errorf("window %s outside %dx%d raster: %w", w, d.meta.Width, d.meta.Height, domain.ErrInvalidInput)
	}

	bw, bh := d.meta.BlockWidth, d.meta.BlockHeight
	out := make([]float64, w.PixelCount())
	for by := w.PixelY / bh; by <= (w.PixelY+w.Height-1)/bh; by++ {
		for bx := w.PixelX / bw; bx <= (w.PixelX+w.Width-1)/bw; bx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			block, err := d.block(w.Band, bx, by)
			if err != nil {
				return nil, err
			}

			// Copy the overlap of block and window
			x0, y0 := max(w.PixelX, bx*bw), max(w.PixelY, by*bh)
			x1 := min(w.PixelX+w.Width, (bx+1)*bw, d.meta.Width)
			y1 := min(w.PixelY+w.Height, (by+1)*bh, d.meta.Height)
			for y := y0; y < y1; y++ {
				src := block[(y-by*bh)*bw+(x0-bx*bw) : (y-by*bh)*bw+(x1-bx*bw)]
				copy(out[(y-w.PixelY)*w.Width+(x0-w.PixelX):], src)
			}
		}
	}
	return out, nil
}

// Close implements output.RasterDataset.
func (d *Dataset) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// block returns the decoded samples of one band of one block, bw*bh
// values. Strips at the bottom edge are padded with NaN.
func (d *Dataset) block(band, bx, by int) ([]float64, error) {
	index := by*d.meta.BlocksAcross() + bx
	key := d.name + "|" + strconv.Itoa(band) + "|" + strconv.Itoa(index)

	if d.cache != nil {
		if item := d.cache.Get(key); item != nil && !item.Expired() {
			return item.Value(), nil
		}
	}

	v, err, _ := d.inflight.Do(key, func() (interface{}, error) {
		values, err := d.decodeBlock(band, index, by)
		if err != nil {
			return nil, err
		}
		if d.cache != nil {
			d.cache.Set(key, values, blockCacheTTL)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

func (d *Dataset) decodeBlock(band, index, by int) ([]float64, error) {
	l := d.layout
	bw, bh := d.meta.BlockWidth, d.meta.BlockHeight

	rows := bh
	if !d.tiled {
		rows = min(bh, d.meta.Height-by*bh)
	}

	stored, samplesPerPixel, sampleOffset := index, l.samplesPerPixel, band-1
	if l.planar == planarSeparate {
		stored = (band-1)*d.meta.BlocksAcross()*d.meta.BlocksDown() + index
		samplesPerPixel, sampleOffset = 1, 0
	}

	offset, count := d.blockOffsets[stored], d.blockCounts[stored]
	values := make([]float64, bw*bh)
	for i := range values {
		values[i] = math.NaN()
	}
	if count == 0 {
		// Sparse block
		return values, nil
	}

	raw := make([]byte, count)
	if _, err := d.reader.ReadAt(raw, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading block %d of %s: %w: %w", stored, d.name, domain.ErrBlockUnreadable, err)
	}
	data, err := decompress(l.compression, raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing block %d of %s: %w: %w", stored, d.name, domain.ErrBlockUnreadable, err)
	}

	rowSamples := bw * samplesPerPixel
	need := rows * rowSamples * l.bytesPerSample()
	if len(data) < need {
		return nil, fmt.Errorf("block %d of %s has %d bytes, want %d: %w", stored, d.name, len(data), need, domain.ErrBlockUnreadable)
	}
	data = data[:need]

	var order binary.ByteOrder
	if order, err = undoPredictor(l, data, rowSamples, samplesPerPixel); err != nil {
		return nil, fmt.Errorf("block %d of %s: %w: %w", stored, d.name, domain.ErrBlockUnreadable, err)
	}

	for i := 0; i < rows*bw; i++ {
		values[i] = sampleAt(l, order, data, i*samplesPerPixel+sampleOffset)
	}
	return values, nil
}

// Opener implements output.RasterOpener for local files. Decoded blocks
// are cached across datasets.
type Opener struct {
	cache *ccache.Cache[[]float64]
}

var _ output.RasterOpener = (*Opener)(nil)

// NewOpener creates an opener caching up to cacheBlocks decoded blocks.
// Zero disables the cache.
func NewOpener(cacheBlocks int64) *Opener {
	o := &Opener{}
	if cacheBlocks > 0 {
		o.cache = ccache.New(ccache.Configure[[]float64]().MaxSize(cacheBlocks))
	}
	return o
}

// OpenRaster implements output.RasterOpener.
func (o *Opener) OpenRaster(_ context.Context, path string) (output.RasterDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("opening %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	d, err := Open(f, path, o.cache)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}

// Close stops the block cache.
func (o *Opener) Close() error {
	if o.cache != nil {
		o.cache.Stop()
	}
	return nil
}
