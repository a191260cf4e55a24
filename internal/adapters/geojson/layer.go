// Package geojson streams features out of GeoJSON FeatureCollections
// without loading the whole document.
package geojson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Opener implements output.FeatureLayerOpener for GeoJSON files.
type Opener struct{}

var _ output.FeatureLayerOpener = (*Opener)(nil)

// NewOpener creates a new GeoJSON opener.
func NewOpener() *Opener {
	return &Opener{}
}

// OpenLayer implements output.FeatureLayerOpener. The file is scanned once
// for its feature count and crs member. The selector is ignored.
func (o *Opener) OpenLayer(ctx context.Context, path string, _ domain.LayerSelector) (output.FeatureLayer, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	s, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var count int64
	for {
		if count%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := s.skip(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
		count++
	}
	if err := s.finish(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	name := filepath.Base(path)
	return &Layer{
		path: path,
		info: domain.LayerInfo{
			Name:         strings.TrimSuffix(name, filepath.Ext(name)),
			CRS:          crsOf(s.crs),
			FeatureCount: count,
			SizeBytes:    fi.Size(),
		},
	}, nil
}

// crsOf reads a named crs member. Without one the document is WGS 84; an
// unrecognised name leaves the CRS undetermined.
func crsOf(raw json.RawMessage) domain.CRS {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.WGS84()
	}
	var member struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &member); err != nil || !strings.EqualFold(member.Type, "name") {
		return domain.CRS{}
	}
	crs, err := domain.ParseCRSName(member.Properties.Name)
	if err != nil {
		return domain.CRS{}
	}
	return crs
}

// Layer implements output.FeatureLayer.
type Layer struct {
	path string
	info domain.LayerInfo
}

var _ output.FeatureLayer = (*Layer)(nil)

// Info implements output.FeatureLayer.
func (l *Layer) Info() domain.LayerInfo {
	return l.info
}

// Cursor implements output.FeatureLayer.
func (l *Layer) Cursor(ctx context.Context, start int64) (output.FeatureCursor, error) {
	s, err := openStream(l.path)
	if err != nil {
		return nil, err
	}
	c := &cursor{stream: s}
	for c.next < start {
		if err := ctx.Err(); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.skip(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.Close()
			return nil, fmt.Errorf("seeking to feature %d: %w", start, err)
		}
		c.next++
	}
	return c, nil
}

// Close implements output.FeatureLayer.
func (l *Layer) Close() error {
	return nil
}

// cursor decodes one feature per call.
type cursor struct {
	stream *stream
	next   int64
}

// Next implements output.FeatureCursor.
func (c *cursor) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	raw, err := c.stream.element()
	if err != nil {
		return domain.Feature{}, err
	}
	index := c.next
	c.next++

	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return domain.Feature{Index: index}, fmt.Errorf("feature %d: %w: %w", index, domain.ErrFeatureUnreadable, err)
	}
	return domain.Feature{
		Index:      index,
		ID:         f.ID,
		Geometry:   f.Geometry,
		Properties: map[string]interface{}(f.Properties),
	}, nil
}

// Close implements output.FeatureCursor.
func (c *cursor) Close() error {
	return c.stream.Close()
}
