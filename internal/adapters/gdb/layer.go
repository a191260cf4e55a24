// Package gdb reads vector layers through GDAL's OGR drivers. It backs the
// File Geodatabase source, loose or zipped.
package gdb

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

var registerOnce sync.Once

// Opener implements output.FeatureLayerOpener for GDAL vector datasets.
type Opener struct{}

var _ output.FeatureLayerOpener = (*Opener)(nil)

// NewOpener registers the GDAL drivers and creates a new opener.
func NewOpener() *Opener {
	registerOnce.Do(godal.RegisterAll)
	return &Opener{}
}

// OpenLayer implements output.FeatureLayerOpener. Zip archives are read
// through /vsizip/; sel.Member names the .gdb inside the archive and
// sel.Layer the feature class.
func (o *Opener) OpenLayer(ctx context.Context, p string, sel domain.LayerSelector) (output.FeatureLayer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening %s: %w", p, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", p, err)
	}

	dsName := p
	if strings.EqualFold(path.Ext(p), ".zip") {
		member, err := zipMember(p, sel.Member)
		if err != nil {
			return nil, err
		}
		dsName = "/vsizip/" + p + "/" + member
	}

	ds, err := godal.Open(dsName, godal.VectorOnly())
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: dsName, Err: err}
	}
	defer ds.Close()

	layers := ds.Layers()
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name()
	}
	idx, err := pickLayer(names, sel.Layer, dsName)
	if err != nil {
		return nil, err
	}

	info, err := describe(layers[idx])
	if err != nil {
		return nil, err
	}
	info.SizeBytes = dirSize(p)

	return &Layer{dsName: dsName, index: idx, info: info}, nil
}

// zipMember returns the .gdb directory inside a zip archive.
func zipMember(zipPath, want string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("opening zip %s: %w", zipPath, err)
	}
	defer zr.Close()

	seen := make(map[string]bool)
	var members []string
	for _, f := range zr.File {
		for dir := path.Dir(f.Name); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if strings.EqualFold(path.Ext(dir), ".gdb") && !seen[dir] {
				seen[dir] = true
				members = append(members, dir)
			}
		}
	}
	sort.Strings(members)

	if want != "" {
		for _, m := range members {
			if strings.EqualFold(m, want) || strings.EqualFold(path.Base(m), want) {
				return m, nil
			}
		}
		return "", &domain.ConfigError{Field: "gdb_name", Message: fmt.Sprintf("no geodatabase %q in %s", want, zipPath)}
	}

	switch len(members) {
	case 0:
		return "", fmt.Errorf("no geodatabase in %s: %w", zipPath, domain.ErrLayerNotFound)
	case 1:
		return members[0], nil
	}
	return "", &domain.ConfigError{
		Field:   "gdb_name",
		Message: fmt.Sprintf("%s holds %d geodatabases (%s), set gdb_name", zipPath, len(members), strings.Join(members, ", ")),
	}
}

// pickLayer returns the index of the selected layer name.
func pickLayer(names []string, want, container string) (int, error) {
	if want != "" {
		for i, n := range names {
			if strings.EqualFold(n, want) {
				return i, nil
			}
		}
		return 0, &domain.ConfigError{Field: "layer_name", Message: fmt.Sprintf("no layer %q in %s", want, container)}
	}

	switch len(names) {
	case 0:
		return 0, fmt.Errorf("no layer in %s: %w", container, domain.ErrLayerNotFound)
	case 1:
		return 0, nil
	}
	return 0, &domain.ConfigError{
		Field:   "layer_name",
		Message: fmt.Sprintf("%s holds %d layers (%s), set layer_name", container, len(names), strings.Join(names, ", ")),
	}
}

func describe(l godal.Layer) (domain.LayerInfo, error) {
	count, err := l.FeatureCount()
	if err != nil {
		return domain.LayerInfo{}, fmt.Errorf("counting features of %s: %w", l.Name(), err)
	}
	return domain.LayerInfo{
		Name:         l.Name(),
		GeometryType: geometryType(l.Type()),
		CRS:          layerCRS(l.SpatialRef()),
		FeatureCount: int64(count),
	}, nil
}

// layerCRS prefers the EPSG authority code over the WKT.
func layerCRS(sr *godal.SpatialRef) domain.CRS {
	if sr == nil {
		return domain.CRS{}
	}
	if strings.EqualFold(sr.AuthorityName(""), "EPSG") {
		if code := sr.AuthorityCode(""); code > 0 {
			return domain.EPSG(code)
		}
	}
	wkt, err := sr.WKT()
	if err != nil || wkt == "" {
		return domain.CRS{}
	}
	return domain.Defined(wkt)
}

func geometryType(t godal.GeometryType) domain.GeometryType {
	switch t {
	case godal.GTPoint:
		return domain.GeomPoint
	case godal.GTMultiPoint:
		return domain.GeomMultiPoint
	case godal.GTLineString:
		return domain.GeomLineString
	case godal.GTMultiLineString:
		return domain.GeomMultiLineString
	case godal.GTPolygon:
		return domain.GeomPolygon
	case godal.GTMultiPolygon:
		return domain.GeomMultiPolygon
	}
	return ""
}

func dirSize(root string) int64 {
	fi, err := os.Stat(root)
	if err != nil {
		return -1
	}
	if !fi.IsDir() {
		return fi.Size()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return -1
	}
	var total int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			total += info.Size()
		}
	}
	return total
}

// Layer implements output.FeatureLayer. Each cursor opens its own dataset
// handle; GDAL handles are not safe for concurrent use.
type Layer struct {
	dsName string
	index  int
	info   domain.LayerInfo
}

var _ output.FeatureLayer = (*Layer)(nil)

// Info implements output.FeatureLayer.
func (l *Layer) Info() domain.LayerInfo {
	return l.info
}

// Cursor implements output.FeatureLayer.
func (l *Layer) Cursor(ctx context.Context, start int64) (output.FeatureCursor, error) {
	ds, err := godal.Open(l.dsName, godal.VectorOnly())
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: l.dsName, Err: err}
	}
	layers := ds.Layers()
	if l.index >= len(layers) {
		_ = ds.Close()
		return nil, fmt.Errorf("layer %d of %s: %w", l.index, l.dsName, domain.ErrLayerNotFound)
	}

	c := &cursor{ds: ds, layer: layers[l.index]}
	c.layer.ResetReading()
	for c.next < start {
		if err := ctx.Err(); err != nil {
			c.Close()
			return nil, err
		}
		f := c.layer.NextFeature()
		if f == nil {
			break
		}
		f.Close()
		c.next++
	}
	return c, nil
}

// Close implements output.FeatureLayer.
func (l *Layer) Close() error {
	return nil
}
