package geotiff

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/jobrunner/geosplit/internal/domain"
)

// geoKeys parses the GeoKeyDirectory into key -> short value. Keys stored
// in other tags are skipped.
func geoKeys(t tags) map[uint64]uint64 {
	dir, ok := t.uints(GeoKeyDirectory)
	if !ok || len(dir) < 4 {
		return nil
	}
	n := int(dir[3])
	keys := make(map[uint64]uint64, n)
	for i := 0; i < n; i++ {
		off := 4 + i*4
		if off+3 >= len(dir) {
			break
		}
		id, location, value := dir[off], dir[off+1], dir[off+3]
		if location != 0 {
			continue
		}
		keys[id] = value
	}
	return keys
}

// crsFromKeys returns the EPSG code of the projected or geographic CRS.
func crsFromKeys(keys map[uint64]uint64) domain.CRS {
	if code, ok := keys[keyProjectedCSType]; ok && code > 0 && code != userDefinedGeoKey {
		return domain.EPSG(int(code))
	}
	if code, ok := keys[keyGeographicType]; ok && code > 0 && code != userDefinedGeoKey {
		return domain.EPSG(int(code))
	}
	return domain.CRS{}
}

// geoTransform builds the pixel-to-CRS transform from ModelTransformation
// or ModelTiepoint and ModelPixelScale. Rasters marked PixelIsPoint are
// shifted by half a pixel so that transforms address pixel corners.
func geoTransform(t tags, keys map[uint64]uint64) (domain.GeoTransform, error) {
	var gt domain.GeoTransform

	if m, ok := t.floats(ModelTransformation); ok && len(m) >= 16 {
		gt = domain.GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		tie, okTie := t.floats(ModelTiepoint)
		scale, okScale := t.floats(ModelPixelScale)
		if !okTie || !okScale || len(tie) < 6 || len(scale) < 2 {
			return gt, errors.New("missing georeferencing tags")
		}
		sx, sy := scale[0], math.Abs(scale[1])
		gt = domain.GeoTransform{
			tie[3] - tie[0]*sx, sx, 0,
			tie[4] + tie[1]*sy, 0, -sy,
		}
	}

	if keys[keyRasterType] == rasterPixelIsPoint {
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}
	return gt, nil
}

// noData parses the GDAL_NODATA tag.
func noData(t tags) (float64, bool) {
	s, ok := t.ascii(GDALNoData)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
