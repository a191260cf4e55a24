// Package shapefile reads ESRI shapefiles, loose or zipped.
package shapefile

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// sidecars are the files extracted together with a .shp.
var sidecars = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// Opener implements output.FeatureLayerOpener for shapefiles.
type Opener struct {
	// TempDir receives extracted zip members; empty uses os.TempDir.
	TempDir string
}

var _ output.FeatureLayerOpener = (*Opener)(nil)

// NewOpener creates a new shapefile opener.
func NewOpener(tempDir string) *Opener {
	return &Opener{TempDir: tempDir}
}

// OpenLayer implements output.FeatureLayerOpener. path is a .shp file, a
// directory or a zip archive; sel.Layer picks the shapefile by base name
// when the container holds more than one.
func (o *Opener) OpenLayer(ctx context.Context, path string, sel domain.LayerSelector) (output.FeatureLayer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var shpPath, cleanup string
	switch {
	case fi.IsDir():
		names, err := filepath.Glob(filepath.Join(path, "*.[sS][hH][pP]"))
		if err != nil {
			return nil, err
		}
		if shpPath, err = pickLayer(names, sel.Layer, path); err != nil {
			return nil, err
		}
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		if shpPath, cleanup, err = o.extract(path, sel.Layer); err != nil {
			return nil, err
		}
	default:
		shpPath = path
	}

	layer, err := openLayer(shpPath)
	if err != nil {
		if cleanup != "" {
			_ = os.RemoveAll(cleanup)
		}
		return nil, err
	}
	layer.cleanup = cleanup
	return layer, nil
}

// pickLayer selects one of the .shp paths by base name.
func pickLayer(paths []string, want, container string) (string, error) {
	sort.Strings(paths)
	if want != "" {
		for _, p := range paths {
			if strings.EqualFold(layerName(p), want) {
				return p, nil
			}
		}
		return "", &domain.ConfigError{
			Field:   "layer_name",
			Message: fmt.Sprintf("no shapefile %q in %s", want, container),
		}
	}

	switch len(paths) {
	case 0:
		return "", fmt.Errorf("no shapefile in %s: %w", container, domain.ErrLayerNotFound)
	case 1:
		return paths[0], nil
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = layerName(p)
	}
	return "", &domain.ConfigError{
		Field:   "layer_name",
		Message: fmt.Sprintf("%s holds %d shapefiles (%s), set layer_name", container, len(paths), strings.Join(names, ", ")),
	}
}

func layerName(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// extract unpacks the selected shapefile and its sidecars from a zip into
// a fresh temp dir.
func (o *Opener) extract(zipPath, want string) (string, string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", "", fmt.Errorf("opening zip %s: %w", zipPath, err)
	}
	defer zr.Close()

	var shps []string
	for _, f := range zr.File {
		if strings.EqualFold(filepath.Ext(f.Name), ".shp") && !strings.HasPrefix(filepath.Base(f.Name), ".") {
			shps = append(shps, f.Name)
		}
	}
	member, err := pickLayer(shps, want, zipPath)
	if err != nil {
		return "", "", err
	}
	stem := strings.TrimSuffix(member, filepath.Ext(member))

	dir, err := os.MkdirTemp(o.TempDir, "geosplit-shp-")
	if err != nil {
		return "", "", fmt.Errorf("creating temp dir: %w", err)
	}

	var shpPath string
	for _, f := range zr.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !strings.EqualFold(strings.TrimSuffix(f.Name, filepath.Ext(f.Name)), stem) || !contains(sidecars, ext) {
			continue
		}
		dest := filepath.Join(dir, layerName(member)+ext)
		if err := extractFile(f, dest); err != nil {
			_ = os.RemoveAll(dir)
			return "", "", fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		if ext == ".shp" {
			shpPath = dest
		}
	}
	return shpPath, dir, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Layer implements output.FeatureLayer for one shapefile.
type Layer struct {
	path    string
	info    domain.LayerInfo
	cleanup string
}

var _ output.FeatureLayer = (*Layer)(nil)

func openLayer(shpPath string) (*Layer, error) {
	r, err := shp.Open(shpPath)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile %s: %w", shpPath, err)
	}
	defer r.Close()

	stem := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	info := domain.LayerInfo{
		Name:         layerName(shpPath),
		GeometryType: geometryTypeName(r.GeometryType),
		FeatureCount: recordCount(stem, r),
		SizeBytes:    fileSize(shpPath) + fileSize(stem+".dbf"),
	}

	crs, err := readPrj(stem + ".prj")
	if err != nil {
		return nil, err
	}
	info.CRS = crs

	return &Layer{path: shpPath, info: info}, nil
}

// recordCount reads the count from the index file, falling back to the
// dbf record count.
func recordCount(stem string, r *shp.Reader) int64 {
	if size := fileSize(stem + ".shx"); size >= 100 {
		return (size - 100) / 8
	}
	if size := fileSize(stem + ".SHX"); size >= 100 {
		return (size - 100) / 8
	}
	return int64(r.AttributeCount())
}

func fileSize(p string) int64 {
	fi, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return fi.Size()
}

var rootAuthority = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)

// readPrj returns the CRS of a .prj sidecar, zero if absent.
func readPrj(p string) (domain.CRS, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CRS{}, nil
		}
		return domain.CRS{}, fmt.Errorf("reading %s: %w", p, err)
	}
	wkt := strings.TrimSpace(string(data))
	if wkt == "" {
		return domain.CRS{}, nil
	}
	if m := rootAuthority.FindStringSubmatch(wkt); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return domain.EPSG(code), nil
		}
	}
	return domain.Defined(wkt), nil
}

// Info implements output.FeatureLayer.
func (l *Layer) Info() domain.LayerInfo {
	return l.info
}

// Cursor implements output.FeatureLayer.
func (l *Layer) Cursor(ctx context.Context, start int64) (output.FeatureCursor, error) {
	r, err := shp.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile %s: %w", l.path, err)
	}
	c := &cursor{reader: r, fields: r.Fields(), next: 0}

	// Records are variable length; skip forward to start
	for c.next < start {
		if err := ctx.Err(); err != nil {
			r.Close()
			return nil, err
		}
		if !r.Next() {
			break
		}
		c.next++
	}
	return c, nil
}

// Close implements output.FeatureLayer. Extracted files are removed.
func (l *Layer) Close() error {
	if l.cleanup == "" {
		return nil
	}
	err := os.RemoveAll(l.cleanup)
	l.cleanup = ""
	return err
}

func geometryTypeName(t shp.ShapeType) domain.GeometryType {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return domain.GeomPoint
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return domain.GeomMultiPoint
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return domain.GeomMultiLineString
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return domain.GeomMultiPolygon
	}
	return ""
}
