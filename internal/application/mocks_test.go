package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDeps(metrics output.MetricsCollector) SourceDeps {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return SourceDeps{
		Transformers: &mockTransformerFactory{},
		Repairers:    &mockRepairerFactory{},
		Metrics:      metrics,
		Logger:       testLogger(),
	}
}

// mockRasterDataset implements output.RasterDataset over an in-memory grid.
type mockRasterDataset struct {
	meta      domain.RasterMetadata
	bands     [][]float64 // full grids, one per band
	badBlocks map[[2]int]bool
	closed    *int
}

func (m *mockRasterDataset) Metadata() domain.RasterMetadata { return m.meta }

func (m *mockRasterDataset) ReadWindow(_ context.Context, w domain.RasterWindow) ([]float64, error) {
	if m.badBlocks[[2]int{w.PixelX, w.PixelY}] {
		return nil, fmt.Errorf("inflating tile: %w", domain.ErrBlockUnreadable)
	}
	grid := m.bands[w.Band-1]
	out := make([]float64, 0, w.PixelCount())
	for y := w.PixelY; y < w.PixelY+w.Height; y++ {
		out = append(out, grid[y*m.meta.Width+w.PixelX:y*m.meta.Width+w.PixelX+w.Width]...)
	}
	return out, nil
}

func (m *mockRasterDataset) Close() error {
	if m.closed != nil {
		*m.closed++
	}
	return nil
}

// mockRasterOpener implements output.RasterOpener.
type mockRasterOpener struct {
	dataset *mockRasterDataset
	openErr error
	opens   int
	closes  int
}

func (m *mockRasterOpener) OpenRaster(_ context.Context, _ string) (output.RasterDataset, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens++
	ds := *m.dataset
	ds.closed = &m.closes
	return &ds, nil
}

// mockLayer implements output.FeatureLayer over a slice of features.
type mockLayer struct {
	info       domain.LayerInfo
	features   []domain.Feature
	unreadable map[int64]bool
	closed     *int
}

func (m *mockLayer) Info() domain.LayerInfo { return m.info }

func (m *mockLayer) Cursor(_ context.Context, start int64) (output.FeatureCursor, error) {
	return &mockCursor{layer: m, next: start}, nil
}

func (m *mockLayer) Close() error {
	if m.closed != nil {
		*m.closed++
	}
	return nil
}

type mockCursor struct {
	layer *mockLayer
	next  int64
}

func (c *mockCursor) Next(_ context.Context) (domain.Feature, error) {
	if c.next >= int64(len(c.layer.features)) {
		return domain.Feature{}, io.EOF
	}
	i := c.next
	c.next++
	if c.layer.unreadable[i] {
		return domain.Feature{Index: i}, fmt.Errorf("record %d: %w", i, domain.ErrFeatureUnreadable)
	}
	return c.layer.features[i], nil
}

func (c *mockCursor) Close() error { return nil }

// mockLayerOpener implements output.FeatureLayerOpener.
type mockLayerOpener struct {
	layer   *mockLayer
	openErr error
	opens   int
	closes  int
	lastSel domain.LayerSelector
}

func (m *mockLayerOpener) OpenLayer(_ context.Context, _ string, sel domain.LayerSelector) (output.FeatureLayer, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens++
	m.lastSel = sel
	l := *m.layer
	l.closed = &m.closes
	return &l, nil
}

// mockService implements output.FeatureService with numbered pages.
type mockService struct {
	info      domain.ServiceInfo
	features  []domain.Feature
	malformed map[int64]bool // by offset
	failing   map[int64]error
	countErr  error
	pageCap   int64 // silent server-side row limit

	mu    sync.Mutex
	pages []int64
}

func (m *mockService) Describe(_ context.Context) (domain.ServiceInfo, error) {
	return m.info, nil
}

func (m *mockService) Count(_ context.Context) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return int64(len(m.features)), nil
}

func (m *mockService) Page(_ context.Context, offset, limit int64) (output.FeaturePage, error) {
	m.mu.Lock()
	m.pages = append(m.pages, offset)
	m.mu.Unlock()

	if err, ok := m.failing[offset]; ok {
		return output.FeaturePage{}, err
	}
	if m.malformed[offset] {
		return output.FeaturePage{}, fmt.Errorf("page at %d: %w", offset, domain.ErrMalformedResponse)
	}
	end := min(offset+limit, int64(len(m.features)))
	if m.pageCap > 0 && end-offset > m.pageCap {
		end = offset + m.pageCap
	}
	if offset >= end {
		return output.FeaturePage{}, nil
	}
	page := make([]domain.Feature, end-offset)
	copy(page, m.features[offset:end])
	return output.FeaturePage{Features: page, ExceededTransferLimit: end < int64(len(m.features))}, nil
}

// mockServiceFactory implements output.FeatureServiceFactory.
type mockServiceFactory struct {
	service *mockService
}

func (m *mockServiceFactory) NewService(_ string) (output.FeatureService, error) {
	return m.service, nil
}

// mockTransformerFactory builds shiftTransformers and records the CRSs.
type mockTransformerFactory struct {
	mu      sync.Mutex
	created [][2]domain.CRS
	err     error
}

func (m *mockTransformerFactory) NewTransformer(source, target domain.CRS) (output.CoordinateTransformer, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	m.created = append(m.created, [2]domain.CRS{source, target})
	m.mu.Unlock()
	return &shiftTransformer{dx: 1000, dy: 2000}, nil
}

// shiftTransformer translates coordinates; x beyond 1e9 fails.
type shiftTransformer struct {
	dx, dy float64
}

func (s *shiftTransformer) TransformPoint(x, y float64) (float64, float64, error) {
	if x > 1e9 {
		return 0, 0, errors.New("coordinate outside projection domain")
	}
	return x + s.dx, y + s.dy, nil
}

func (s *shiftTransformer) TransformGeometry(g orb.Geometry) (orb.Geometry, error) {
	return domain.MapPoints(g, func(p orb.Point) (orb.Point, error) {
		x, y, err := s.TransformPoint(p[0], p[1])
		return orb.Point{x, y}, err
	})
}

func (s *shiftTransformer) InversePoint(x, y float64) (float64, float64, error) {
	return x - s.dx, y - s.dy, nil
}

func (s *shiftTransformer) IsIdentity() bool { return false }
func (s *shiftTransformer) Close() error { return nil }

// mockRepairer closes open rings and rejects empty results.
type mockRepairer struct{}

func (mockRepairer) MakeValid(g orb.Geometry) (orb.Geometry, error) {
	if p, ok := g.(orb.Polygon); ok && len(p) > 0 && len(p[0]) < 3 {
		return orb.Polygon{}, nil
	}
	return domain.CloseRings(g), nil
}

func (mockRepairer) IsAcceptable(original, repaired orb.Geometry) bool {
	return !domain.IsEmptyGeometry(repaired) && original.Dimensions() == repaired.Dimensions()
}

func (mockRepairer) Close() error { return nil }

type mockRepairerFactory struct{}

func (mockRepairerFactory) NewRepairer() (output.GeometryRepairer, error) {
	return mockRepairer{}, nil
}

// recordingMetrics implements output.MetricsCollector and keeps counts.
type recordingMetrics struct {
	output.NoOpMetrics

	mu            sync.Mutex
	defects       map[string]int
	rangeFailures int
	splits        int
	records       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{defects: make(map[string]int)}
}

func (m *recordingMetrics) IncDefect(_, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defects[kind]++
}

func (m *recordingMetrics) IncRangeFailure(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeFailures++
}

func (m *recordingMetrics) IncSplit(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits++
}

func (m *recordingMetrics) AddRecords(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records += n
}

func (m *recordingMetrics) ObserveRangeDuration(_ string, _ time.Duration) {}

// mockResolver implements output.ObjectResolver.
type mockResolver struct {
	size int64
	err  error
}

func (m *mockResolver) Resolve(_ context.Context, uri string) (output.LocalObject, error) {
	if m.err != nil {
		return output.LocalObject{}, m.err
	}
	return output.LocalObject{Path: uri, Size: m.size}, nil
}

// readAll drains a reader, closing it.
func readAll(ctx context.Context, r interface {
	Start(context.Context) (bool, error)
	Advance(context.Context) (bool, error)
	Current() domain.GeoRecord
	Close() error
}) ([]domain.GeoRecord, error) {
	defer r.Close()

	var out []domain.GeoRecord
	ok, err := r.Start(ctx)
	for ; ok && err == nil; ok, err = r.Advance(ctx) {
		out = append(out, r.Current())
	}
	return out, err
}

func localObject(path string) output.LocalObject {
	return output.LocalObject{Path: path, Size: -1}
}

func readAllRange(ctx context.Context, src interface {
	CreateReader(context.Context, domain.Range) (input.Reader, error)
}, r domain.Range) ([]domain.GeoRecord, error) {
	reader, err := src.CreateReader(ctx, r)
	if err != nil {
		return nil, err
	}
	return readAll(ctx, reader)
}
