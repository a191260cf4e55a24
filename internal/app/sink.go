package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/geosplit/internal/domain"
)

// lineFeature is one GeoJSON feature per output line. The id is the
// record position.
type lineFeature struct {
	Type       string                 `json:"type"`
	ID         int64                  `json:"id"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// GeoJSONLinesSink writes records as newline-delimited GeoJSON features.
type GeoJSONLinesSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

var _ RecordSink = (*GeoJSONLinesSink)(nil)

// NewGeoJSONLinesSink creates a sink writing to w. Call Flush when done.
func NewGeoJSONLinesSink(w io.Writer) *GeoJSONLinesSink {
	bw := bufio.NewWriter(w)
	return &GeoJSONLinesSink{w: bw, enc: json.NewEncoder(bw)}
}

// Write implements RecordSink.
func (s *GeoJSONLinesSink) Write(rec domain.GeoRecord) error {
	f := lineFeature{
		Type:       "Feature",
		ID:         rec.Position,
		Properties: rec.Attributes,
	}
	if rec.Geometry != nil {
		f.Geometry = geojson.NewGeometry(rec.Geometry)
	}
	if f.Properties == nil {
		f.Properties = map[string]interface{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(f); err != nil {
		return fmt.Errorf("encoding record %d: %w", rec.Position, err)
	}
	return nil
}

// Flush writes buffered output.
func (s *GeoJSONLinesSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
