package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/geosplit/internal/domain"
)

func newTestFactory() *SourceFactory {
	return NewSourceFactory(SourceFactoryConfig{
		Resolver:   &mockResolver{size: 300},
		Rasters:    twoBlockRaster(domain.EPSG(32632)),
		Shapefiles: shapefileOpener(pointFeatures(3), domain.EPSG(25832)),
		GeoJSON:    shapefileOpener(pointFeatures(3), domain.WGS84()),
		Services:   &mockServiceFactory{service: newTestService(3, 0)},
	}, testDeps(nil))
}

func TestSourceFactoryNewSource(t *testing.T) {
	ctx := context.Background()
	factory := newTestFactory()

	tests := []struct {
		name       string
		desc       domain.SourceDescriptor
		polygons   bool
		wantRaster bool
		wantMode   RasterMode
		wantKind   domain.FormatKind
	}{
		{"raster by extension", domain.SourceDescriptor{URI: "/data/dem.tif"}, false, true, RasterPixels, domain.KindRaster},
		{"polygonize", domain.SourceDescriptor{URI: "/data/dem.tif"}, true, true, RasterPolygons, domain.KindRaster},
		{"shapefile", domain.SourceDescriptor{URI: "/data/roads.shp"}, false, false, 0, domain.KindShapefile},
		{"geojson explicit", domain.SourceDescriptor{URI: "/data/roads.json", Kind: domain.KindGeoJSON}, false, false, 0, domain.KindGeoJSON},
		{"esri service", esriDesc(), false, false, 0, domain.KindESRIService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := domain.DefaultSourceOptions()
			opts.Polygonize = tt.polygons

			src, err := factory.NewSource(ctx, tt.desc, opts)
			if err != nil {
				t.Fatalf("NewSource() unexpected error: %v", err)
			}

			switch s := src.(type) {
			case *RasterSource:
				if !tt.wantRaster || s.mode != tt.wantMode {
					t.Errorf("got raster source mode %v", s.mode)
				}
			case *VectorSource:
				if tt.wantRaster || s.kind != tt.wantKind {
					t.Errorf("got vector source kind %v, want %v", s.kind, tt.wantKind)
				}
			case *ESRIServerSource:
				if tt.wantKind != domain.KindESRIService {
					t.Errorf("got service source for %v", tt.desc)
				}
			default:
				t.Fatalf("unexpected source type %T", src)
			}
		})
	}
}

func TestSourceFactoryErrors(t *testing.T) {
	ctx := context.Background()
	factory := newTestFactory()

	badOpts := domain.DefaultSourceOptions()
	badOpts.InEPSG = 4326
	badOpts.InProj = "+proj=longlat"

	tests := []struct {
		name string
		desc domain.SourceDescriptor
		opts domain.SourceOptions
		want error
	}{
		{"undetectable", domain.SourceDescriptor{URI: "/data/readme.txt"}, domain.DefaultSourceOptions(), domain.ErrConfiguration},
		{"no adapter", domain.SourceDescriptor{URI: "/data/a.gdb"}, domain.DefaultSourceOptions(), domain.ErrConfiguration},
		{"bad options", domain.SourceDescriptor{URI: "/data/roads.shp"}, badOpts, domain.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewSource(ctx, tt.desc, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewSource() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSourceFactoryResolveFailure(t *testing.T) {
	factory := NewSourceFactory(SourceFactoryConfig{
		Resolver:   &mockResolver{err: &domain.StorageError{Operation: "stat", Key: "roads.shp", Err: domain.ErrNotFound}},
		Shapefiles: shapefileOpener(pointFeatures(1), domain.CRS{}),
	}, testDeps(nil))

	_, err := factory.NewSource(context.Background(), domain.SourceDescriptor{URI: "s3://bucket/roads.shp"}, domain.DefaultSourceOptions())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("NewSource() error = %v, want not found", err)
	}
}
