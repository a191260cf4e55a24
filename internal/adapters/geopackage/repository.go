// Package geopackage reads GeoPackage feature tables through SQLite.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

const driverName = "sqlite3_readonly"

// Register a driver whose connections refuse writes.
func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA query_only = ON", nil)
			return err
		},
	})
}

// Opener implements output.FeatureLayerOpener for GeoPackage files.
type Opener struct{}

var _ output.FeatureLayerOpener = (*Opener)(nil)

// NewOpener creates a new GeoPackage opener.
func NewOpener() *Opener {
	return &Opener{}
}

// tableInfo describes one feature table from gpkg_geometry_columns.
type tableInfo struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	SRSID          int
}

// OpenLayer implements output.FeatureLayerOpener. sel.Layer names the
// feature table when the package holds several.
func (o *Opener) OpenLayer(ctx context.Context, path string, sel domain.LayerSelector) (output.FeatureLayer, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{
			Operation: "open",
			Key:       path,
			Err:       err,
		}
	}

	layer, err := newLayer(ctx, db, path, sel.Layer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	layer.info.SizeBytes = fi.Size()
	return layer, nil
}

// openDB opens the SQLite database read-only.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newLayer(ctx context.Context, db *sql.DB, path, want string) (*Layer, error) {
	tables, err := readTables(ctx, db)
	if err != nil {
		return nil, err
	}
	table, err := pickTable(tables, want, path)
	if err != nil {
		return nil, err
	}

	crs, err := readCRS(ctx, db, table.SRSID)
	if err != nil {
		return nil, err
	}

	pk, err := primaryKey(ctx, db, table.Name)
	if err != nil {
		return nil, err
	}

	// Count features
	var count int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table.Name) //#nosec G201 -- table name from gpkg_contents
	if err := db.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting features of %s: %w", table.Name, err)
	}

	return &Layer{
		db:    db,
		table: table,
		pk:    pk,
		info: domain.LayerInfo{
			Name:         table.Name,
			GeometryType: geometryType(table.GeometryType),
			CRS:          crs,
			FeatureCount: count,
		},
	}, nil
}

// readTables reads the feature tables from gpkg_contents.
func readTables(ctx context.Context, db *sql.DB) ([]tableInfo, error) {
	query := `
		SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []tableInfo
	for rows.Next() {
		var t tableInfo
		if err := rows.Scan(&t.Name, &t.GeometryColumn, &t.GeometryType, &t.SRSID); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func pickTable(tables []tableInfo, want, path string) (tableInfo, error) {
	if want != "" {
		for _, t := range tables {
			if strings.EqualFold(t.Name, want) {
				return t, nil
			}
		}
		return tableInfo{}, &domain.ConfigError{
			Field:   "layer_name",
			Message: fmt.Sprintf("no feature table %q in %s", want, filepath.Base(path)),
		}
	}

	switch len(tables) {
	case 0:
		return tableInfo{}, fmt.Errorf("no feature table in %s: %w", path, domain.ErrLayerNotFound)
	case 1:
		return tables[0], nil
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return tableInfo{}, &domain.ConfigError{
		Field:   "layer_name",
		Message: fmt.Sprintf("%s holds %d feature tables (%s), set layer_name", filepath.Base(path), len(tables), strings.Join(names, ", ")),
	}
}

// readCRS resolves an srs_id. The reserved ids 0 and -1 are undefined.
func readCRS(ctx context.Context, db *sql.DB, srsID int) (domain.CRS, error) {
	if srsID <= 0 {
		return domain.CRS{}, nil
	}

	var org, definition string
	var code int
	query := `SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`
	err := db.QueryRowContext(ctx, query, srsID).Scan(&org, &code, &definition)
	if err == sql.ErrNoRows {
		return domain.CRS{}, nil
	}
	if err != nil {
		return domain.CRS{}, fmt.Errorf("reading srs %d: %w", srsID, err)
	}

	if strings.EqualFold(org, "EPSG") && code > 0 {
		return domain.EPSG(code), nil
	}
	if definition == "" || strings.EqualFold(definition, "undefined") {
		return domain.CRS{}, nil
	}
	return domain.Defined(definition), nil
}

// primaryKey returns the integer primary key column, "fid" by default.
func primaryKey(ctx context.Context, db *sql.DB, table string) (string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table)) //#nosec G201 -- table name from gpkg_contents
	if err != nil {
		return "", fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return "", fmt.Errorf("scanning column: %w", err)
		}
		if pk == 1 {
			return name, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "fid", nil
}

func geometryType(name string) domain.GeometryType {
	switch strings.ToUpper(name) {
	case "POINT":
		return domain.GeomPoint
	case "LINESTRING":
		return domain.GeomLineString
	case "POLYGON":
		return domain.GeomPolygon
	case "MULTIPOINT":
		return domain.GeomMultiPoint
	case "MULTILINESTRING":
		return domain.GeomMultiLineString
	case "MULTIPOLYGON":
		return domain.GeomMultiPolygon
	}
	return ""
}

// Layer implements output.FeatureLayer for one feature table.
type Layer struct {
	db    *sql.DB
	table tableInfo
	pk    string
	info  domain.LayerInfo
}

var _ output.FeatureLayer = (*Layer)(nil)

// Info implements output.FeatureLayer.
func (l *Layer) Info() domain.LayerInfo {
	return l.info
}

// Cursor implements output.FeatureLayer. Rows are ordered by primary key so
// the index of a feature is stable across cursors.
func (l *Layer) Cursor(ctx context.Context, start int64) (output.FeatureCursor, error) {
	query := fmt.Sprintf(`SELECT * FROM "%s" ORDER BY "%s" LIMIT -1 OFFSET ?`, l.table.Name, l.pk) //#nosec G201 -- names from gpkg_contents
	rows, err := l.db.QueryContext(ctx, query, start)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", l.table.Name, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &cursor{
		rows:    rows,
		columns: columns,
		geomCol: l.table.GeometryColumn,
		pk:      l.pk,
		next:    start,
	}, nil
}

// Close implements output.FeatureLayer.
func (l *Layer) Close() error {
	return l.db.Close()
}
