package geopackage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/geosplit/internal/domain"
)

// gpkgBlob wraps WKB in a little-endian GeoPackage header, optionally with
// an xy envelope.
func gpkgBlob(t *testing.T, g orb.Geometry, srsID int32, envelope bool) []byte {
	t.Helper()
	body, err := wkb.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	flags := byte(0x01)
	if envelope {
		flags |= 0x02
	}
	out := []byte{'G', 'P', 0, flags}
	out = binary.LittleEndian.AppendUint32(out, uint32(srsID))
	if envelope {
		b := g.Bound()
		for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	return append(out, body...)
}

// createPackage writes a minimal GeoPackage with the given tables.
func createPackage(t *testing.T, tables ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gpkg")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT, srs_id INTEGER PRIMARY KEY, organization TEXT, organization_coordsys_id INTEGER, definition TEXT)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84"]')`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('local', 100000, 'NONE', 100000, 'LOCAL_CS["grid"]')`,
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT, identifier TEXT)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER, z INTEGER, m INTEGER)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}

	for _, table := range tables {
		stmts := []string{
			`CREATE TABLE "` + table + `" (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB, name TEXT, pop INTEGER)`,
			`INSERT INTO gpkg_contents VALUES ('` + table + `', 'features', '` + table + `')`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				t.Fatal(err)
			}
		}
	}
	return path
}

func exec(t *testing.T, path, query string, args ...interface{}) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatal(err)
	}
}

func TestOpenLayer(t *testing.T) {
	path := createPackage(t, "towns")
	exec(t, path, `INSERT INTO gpkg_geometry_columns VALUES ('towns', 'geom', 'POINT', 4326, 0, 0)`)
	for i := 0; i < 4; i++ {
		blob := gpkgBlob(t, orb.Point{float64(i), float64(i + 50)}, 4326, i%2 == 1)
		exec(t, path, `INSERT INTO towns (geom, name, pop) VALUES (?, ?, ?)`, blob, "town", 100*i)
	}
	exec(t, path, `INSERT INTO towns (geom, name, pop) VALUES (NULL, 'lost', NULL)`)

	ctx := context.Background()
	layer, err := NewOpener().OpenLayer(ctx, path, domain.LayerSelector{})
	if err != nil {
		t.Fatalf("OpenLayer() unexpected error: %v", err)
	}
	defer layer.Close()

	info := layer.Info()
	if info.Name != "towns" || info.FeatureCount != 5 || info.CRS != domain.WGS84() || info.GeometryType != domain.GeomPoint {
		t.Errorf("Info() = %+v", info)
	}

	c, err := layer.Cursor(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var got []domain.Feature
	for {
		f, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, f)
	}
	if len(got) != 4 {
		t.Fatalf("got %d features from 1, want 4", len(got))
	}
	if got[0].Index != 1 || got[0].ID != int64(2) || got[0].Geometry != (orb.Point{1, 51}) {
		t.Errorf("first feature = %+v", got[0])
	}
	if got[0].GetStringProperty("name") != "town" || got[0].GetIntProperty("pop") != 100 {
		t.Errorf("properties = %v", got[0].Properties)
	}
	if _, ok := got[0].Properties["geom"]; ok {
		t.Error("geometry column leaked into properties")
	}
	if last := got[3]; last.Geometry != nil || last.Properties["pop"] != nil {
		t.Errorf("null geometry row = %+v", last)
	}
}

func TestOpenLayerSelection(t *testing.T) {
	path := createPackage(t, "roads", "rivers")
	exec(t, path, `INSERT INTO gpkg_geometry_columns VALUES ('roads', 'geom', 'LINESTRING', 100000, 0, 0)`)
	exec(t, path, `INSERT INTO gpkg_geometry_columns VALUES ('rivers', 'geom', 'MULTILINESTRING', 0, 0, 0)`)
	ctx := context.Background()

	if _, err := NewOpener().OpenLayer(ctx, path, domain.LayerSelector{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("ambiguous error = %v, want configuration error", err)
	}
	if _, err := NewOpener().OpenLayer(ctx, path, domain.LayerSelector{Layer: "lakes"}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown table error = %v, want configuration error", err)
	}

	tests := []struct {
		layer   string
		wantCRS domain.CRS
	}{
		{"roads", domain.Defined(`LOCAL_CS["grid"]`)},
		{"RIVERS", domain.CRS{}},
	}
	for _, tt := range tests {
		t.Run(tt.layer, func(t *testing.T) {
			layer, err := NewOpener().OpenLayer(ctx, path, domain.LayerSelector{Layer: tt.layer})
			if err != nil {
				t.Fatal(err)
			}
			defer layer.Close()
			if got := layer.Info().CRS; got != tt.wantCRS {
				t.Errorf("CRS = %v, want %v", got, tt.wantCRS)
			}
		})
	}
}

func TestOpenLayerMissing(t *testing.T) {
	_, err := NewOpener().OpenLayer(context.Background(), filepath.Join(t.TempDir(), "none.gpkg"), domain.LayerSelector{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDecodeGeometry(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	tests := []struct {
		name    string
		blob    []byte
		want    orb.Geometry
		wantErr error
	}{
		{"null", nil, nil, nil},
		{"no envelope", gpkgBlob(t, orb.Point{3, 4}, 4326, false), orb.Point{3, 4}, nil},
		{"xy envelope", gpkgBlob(t, poly, 4326, true), poly, nil},
		{"empty flag", []byte{'G', 'P', 0, 0x11, 0, 0, 0, 0}, nil, nil},
		{"extended", []byte{'G', 'P', 0, 0x21, 0, 0, 0, 0}, nil, domain.ErrUnsupported},
		{"bad magic", []byte("XXXXXXXXXXXX"), nil, domain.ErrInvalidInput},
		{"bad envelope", []byte{'G', 'P', 0, 0x0b, 0, 0, 0, 0}, nil, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeGeometry(tt.blob)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("decodeGeometry() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("decodeGeometry() = %v, want nil", got)
				}
				return
			}
			if got == nil || !orb.Equal(got, tt.want) {
				t.Errorf("decodeGeometry() = %v, want %v", got, tt.want)
			}
		})
	}
}
