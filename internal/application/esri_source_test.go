package application

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

func newTestService(n, maxRecords int) *mockService {
	features := make([]domain.Feature, n)
	for i := range features {
		features[i] = domain.Feature{
			ID:         int64(i + 1),
			Geometry:   orb.Point{float64(i), float64(i)},
			Properties: map[string]interface{}{"OBJECTID": int64(i + 1)},
		}
	}
	return &mockService{
		info: domain.ServiceInfo{
			Name:           "parcels",
			ObjectIDField:  "OBJECTID",
			MaxRecordCount: maxRecords,
			CRS:            domain.EPSG(domain.EPSGWebMercator),
		},
		features: features,
	}
}

func esriDesc() domain.SourceDescriptor {
	return domain.SourceDescriptor{
		URI:  "https://example.com/arcgis/rest/services/parcels/FeatureServer/0",
		Kind: domain.KindESRIService,
	}
}

func TestESRIServerSourcePageSize(t *testing.T) {
	tests := []struct {
		name       string
		pageSize   int
		maxRecords int
		want       int64
	}{
		{"default", 0, 0, 1000},
		{"capped by default", 5000, 0, 1000},
		{"capped by server", 50, 20, 20},
		{"requested smaller", 10, 2000, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := domain.DefaultSourceOptions()
			opts.PageSize = tt.pageSize
			service := newTestService(3, tt.maxRecords)

			src, err := NewESRIServerSource(context.Background(), esriDesc(), opts, &mockServiceFactory{service: service}, testDeps(nil))
			if err != nil {
				t.Fatal(err)
			}
			if got := src.PageSize(); got != tt.want {
				t.Errorf("PageSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestESRIServerSourceMalformedPageIsDefect(t *testing.T) {
	ctx := context.Background()
	metrics := newRecordingMetrics()
	service := newTestService(10, 2)
	service.malformed = map[int64]bool{4: true}

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(metrics))
	if err != nil {
		t.Fatal(err)
	}
	if got := src.PageCount(); got != 5 {
		t.Fatalf("PageCount() = %d, want 5", got)
	}

	records, err := readAllRange(ctx, src, domain.NewRange(0, 5))
	if err != nil {
		t.Fatalf("malformed page must not fail the range: %v", err)
	}

	var pages []int64
	for _, r := range records {
		if len(pages) == 0 || pages[len(pages)-1] != r.Position {
			pages = append(pages, r.Position)
		}
	}
	if !reflect.DeepEqual(pages, []int64{0, 1, 3, 4}) {
		t.Errorf("pages = %v, want [0 1 3 4]", pages)
	}
	if len(records) != 8 {
		t.Errorf("got %d records, want 8", len(records))
	}
	if metrics.defects[domain.DefectPageMalformed] != 1 {
		t.Errorf("defects = %v", metrics.defects)
	}
	if metrics.rangeFailures != 0 {
		t.Errorf("rangeFailures = %d, want 0", metrics.rangeFailures)
	}
}

func TestESRIServerSourceMalformedFirstPageFails(t *testing.T) {
	ctx := context.Background()
	metrics := newRecordingMetrics()
	service := newTestService(10, 2)
	service.malformed = map[int64]bool{0: true}

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(metrics))
	if err != nil {
		t.Fatal(err)
	}
	_, err = readAllRange(ctx, src, domain.NewRange(0, 5))
	if !domain.IsRangeFailure(err) {
		t.Fatalf("error = %v, want range failure", err)
	}
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("error = %v, want malformed response in chain", err)
	}
	if metrics.rangeFailures != 1 {
		t.Errorf("rangeFailures = %d, want 1", metrics.rangeFailures)
	}
}

func TestESRIServerSourceTransientFailure(t *testing.T) {
	ctx := context.Background()
	service := newTestService(10, 2)
	service.failing = map[int64]error{
		4: &domain.TransientIOError{Operation: "query", Err: errors.New("503 service unavailable")},
	}

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(nil))
	if err != nil {
		t.Fatal(err)
	}
	records, err := readAllRange(ctx, src, domain.NewRange(0, 5))
	if !domain.IsRangeFailure(err) || !domain.IsTransient(err) {
		t.Fatalf("error = %v, want transient range failure", err)
	}
	if len(records) != 4 {
		t.Errorf("got %d records before the failure, want 4", len(records))
	}
}

func TestESRIServerSourceUnknownCount(t *testing.T) {
	ctx := context.Background()
	service := newTestService(5, 2)
	service.countErr = errors.New("returnCountOnly not supported")

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(nil))
	if err != nil {
		t.Fatal(err)
	}

	if size, _ := src.EstimateSize(ctx); size != -1 {
		t.Errorf("EstimateSize() = %d, want -1", size)
	}
	ranges, err := src.InitialRanges(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || ranges[0].IsBounded() {
		t.Fatalf("InitialRanges() = %v, want one unbounded range", ranges)
	}

	reader, err := src.CreateReader(ctx, ranges[0])
	if err != nil {
		t.Fatal(err)
	}
	records, err := readAll(ctx, reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Errorf("got %d records, want 5", len(records))
	}
	if got := reader.Range(); got != domain.NewRange(0, 3) {
		t.Errorf("Range() after discovery = %v, want [0, 3)", got)
	}
	if !reflect.DeepEqual(service.pages, []int64{0, 2, 4}) {
		t.Errorf("fetched offsets = %v, want [0 2 4]", service.pages)
	}
}

func TestESRIServerSourceRangesCoverAllPages(t *testing.T) {
	ctx := context.Background()
	service := newTestService(10, 2)

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(nil))
	if err != nil {
		t.Fatal(err)
	}
	if size, _ := src.EstimateSize(ctx); size != 10*assumedFeatureBytes {
		t.Errorf("EstimateSize() = %d", size)
	}

	ranges, err := src.InitialRanges(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Range{{Start: 0, End: 2}, {Start: 2, End: 4}, {Start: 4, End: 5}}
	if !reflect.DeepEqual(ranges, want) {
		t.Fatalf("InitialRanges(2000) = %v, want %v", ranges, want)
	}

	var ids []int64
	for _, r := range ranges {
		records, err := readAllRange(ctx, src, r)
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range records {
			id, _ := rec.Attribute("OBJECTID")
			ids = append(ids, id.(int64))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 10 || ids[0] != 1 || ids[9] != 10 {
		t.Errorf("ids = %v, want 1..10", ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Errorf("duplicate id %d", ids[i])
		}
	}
}

func TestESRIServerSourceRejectsRangeBeyondPages(t *testing.T) {
	ctx := context.Background()
	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: newTestService(10, 2)}, testDeps(nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.CreateReader(ctx, domain.NewRange(0, 6)); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("CreateReader() error = %v, want invalid range", err)
	}
}

func TestESRIServerSourceCompletesTruncatedPages(t *testing.T) {
	ctx := context.Background()
	service := newTestService(10, 0)
	service.pageCap = 3
	opts := domain.DefaultSourceOptions()
	opts.PageSize = 5

	src, err := NewESRIServerSource(ctx, esriDesc(), opts, &mockServiceFactory{service: service}, testDeps(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := src.PageCount(); got != 2 {
		t.Fatalf("PageCount() = %d, want 2", got)
	}

	records, err := readAllRange(ctx, src, domain.NewRange(0, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 10 {
		t.Fatalf("got %d records, want 10", len(records))
	}
	for i, rec := range records {
		id, _ := rec.Attribute("OBJECTID")
		if id != int64(i+1) {
			t.Errorf("record %d OBJECTID = %v, want %d", i, id, i+1)
		}
		if want := int64(i / 5); rec.Position != want {
			t.Errorf("record %d position = %d, want %d", i, rec.Position, want)
		}
	}
	if !reflect.DeepEqual(service.pages, []int64{0, 3, 5, 8}) {
		t.Errorf("fetched offsets = %v, want [0 3 5 8]", service.pages)
	}
}

func TestESRIServerSourceUnboundedStopsAtMalformedPage(t *testing.T) {
	ctx := context.Background()
	metrics := newRecordingMetrics()
	service := newTestService(4, 2)
	service.countErr = errors.New("returnCountOnly not supported")
	service.malformed = map[int64]bool{4: true, 6: true, 8: true, 10: true}

	src, err := NewESRIServerSource(ctx, esriDesc(), domain.DefaultSourceOptions(), &mockServiceFactory{service: service}, testDeps(metrics))
	if err != nil {
		t.Fatal(err)
	}
	reader, err := src.CreateReader(ctx, domain.NewRange(0, domain.Unbounded))
	if err != nil {
		t.Fatal(err)
	}
	records, err := readAll(ctx, reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Errorf("got %d records, want 4", len(records))
	}
	if got := reader.Range(); got != domain.NewRange(0, 3) {
		t.Errorf("Range() = %v, want [0, 3)", got)
	}
	if !reflect.DeepEqual(service.pages, []int64{0, 2, 4}) {
		t.Errorf("fetched offsets = %v, want [0 2 4]", service.pages)
	}
	if metrics.defects[domain.DefectPageMalformed] != 1 {
		t.Errorf("defects = %v", metrics.defects)
	}
}
