package gdb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosplit/internal/domain"
)

// cursor walks the features of one layer handle in reading order.
type cursor struct {
	ds    *godal.Dataset
	layer godal.Layer
	next  int64
}

// Next implements output.FeatureCursor.
func (c *cursor) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	f := c.layer.NextFeature()
	if f == nil {
		return domain.Feature{}, io.EOF
	}
	defer f.Close()

	index := c.next
	c.next++

	feature := domain.Feature{
		Index:      index,
		ID:         f.FID(),
		Properties: properties(f.Fields()),
	}

	g := f.Geometry()
	if g == nil {
		return feature, nil
	}
	defer g.Close()
	if g.Empty() {
		return feature, nil
	}
	geom, err := toOrb(g)
	if err != nil {
		return domain.Feature{Index: index}, fmt.Errorf("feature %d: %w: %w", index, domain.ErrFeatureUnreadable, err)
	}
	feature.Geometry = geom
	return feature, nil
}

// Close implements output.FeatureCursor.
func (c *cursor) Close() error {
	if c.ds == nil {
		return nil
	}
	err := c.ds.Close()
	c.ds = nil
	return err
}

// toOrb decodes a GDAL geometry. WKB with Z or M dimensions is not
// understood by orb; those fall back to GeoJSON, which drops extra ordinates.
func toOrb(g *godal.Geometry) (orb.Geometry, error) {
	data, err := g.WKB()
	if err != nil {
		return nil, err
	}
	if geom, err := wkb.Unmarshal(data); err == nil {
		return geom, nil
	}

	js, err := g.GeoJSON()
	if err != nil {
		return nil, err
	}
	parsed, err := geojson.UnmarshalGeometry([]byte(js))
	if err != nil {
		return nil, err
	}
	return parsed.Geometry(), nil
}

func properties(fields map[string]godal.Field) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	for name, fld := range fields {
		props[name] = fieldValue(fld)
	}
	return props
}

func fieldValue(fld godal.Field) interface{} {
	if !fld.IsSet() {
		return nil
	}
	switch fld.Type() {
	case godal.FTInt, godal.FTInt64:
		return fld.Int()
	case godal.FTReal:
		return fld.Float()
	case godal.FTDate:
		if t := fld.DateTime(); t != nil {
			return t.Format(time.DateOnly)
		}
		return nil
	case godal.FTDateTime:
		if t := fld.DateTime(); t != nil {
			return t.UTC().Format(time.RFC3339)
		}
		return nil
	case godal.FTBinary:
		return fld.Bytes()
	}
	return fld.String()
}
