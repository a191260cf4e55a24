package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/geosplit/internal/domain"
)

// cursor scans rows of a feature table.
type cursor struct {
	rows    *sql.Rows
	columns []string
	geomCol string
	pk      string
	next    int64
}

// Next implements output.FeatureCursor.
func (c *cursor) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return domain.Feature{}, fmt.Errorf("reading row %d: %w", c.next, err)
		}
		return domain.Feature{}, io.EOF
	}

	// Create scan destinations
	values := make([]interface{}, len(c.columns))
	valuePtrs := make([]interface{}, len(c.columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	index := c.next
	c.next++
	if err := c.rows.Scan(valuePtrs...); err != nil {
		return domain.Feature{Index: index}, fmt.Errorf("row %d: %w: %w", index, domain.ErrFeatureUnreadable, err)
	}

	feature := domain.Feature{
		Index:      index,
		Properties: make(map[string]interface{}, len(c.columns)),
	}
	var blob []byte
	for i, col := range c.columns {
		switch col {
		case c.pk:
			feature.ID = values[i]
		case c.geomCol:
			blob, _ = values[i].([]byte)
		default:
			if b, ok := values[i].([]byte); ok {
				feature.Properties[col] = string(b)
				continue
			}
			feature.Properties[col] = values[i]
		}
	}

	geom, err := decodeGeometry(blob)
	if err != nil {
		return domain.Feature{Index: index}, fmt.Errorf("row %d: %w: %w", index, domain.ErrFeatureUnreadable, err)
	}
	feature.Geometry = geom
	return feature, nil
}

// Close implements output.FeatureCursor.
func (c *cursor) Close() error {
	return c.rows.Close()
}

// Standard GeoPackage binary header flags.
const (
	flagEnvelope = 0x0e
	flagEmpty    = 0x10
	flagExtended = 0x20
)

// envelopeSizes maps the envelope indicator to its byte length.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// decodeGeometry strips the GeoPackage header and decodes the WKB body.
// NULL and empty geometries decode to nil.
func decodeGeometry(blob []byte) (orb.Geometry, error) {
	if blob == nil {
		return nil, nil
	}
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("not a GeoPackage geometry: %w", domain.ErrInvalidInput)
	}
	flags := blob[3]
	if flags&flagExtended != 0 {
		return nil, fmt.Errorf("extended geometry: %w", domain.ErrUnsupportedGeometry)
	}
	if flags&flagEmpty != 0 {
		return nil, nil
	}

	indicator := int(flags&flagEnvelope) >> 1
	if indicator >= len(envelopeSizes) {
		return nil, fmt.Errorf("envelope indicator %d: %w", indicator, domain.ErrInvalidInput)
	}
	offset := 8 + envelopeSizes[indicator]
	if len(blob) < offset {
		return nil, fmt.Errorf("truncated header: %w", domain.ErrInvalidInput)
	}
	return wkb.Unmarshal(blob[offset:])
}
