package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

func TestGeoJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewGeoJSONLinesSink(&buf)

	records := []domain.GeoRecord{
		{Position: 3, Attributes: map[string]interface{}{"value": 1.5}, Geometry: orb.Point{7, 51}},
		{Position: 4},
	}
	for _, rec := range records {
		if err := sink.Write(rec); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if buf.Len() != 0 {
		t.Error("output should be buffered until Flush")
	}
	if err := sink.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		`{"type":"Feature","id":3,"geometry":{"type":"Point","coordinates":[7,51]},"properties":{"value":1.5}}`,
		`{"type":"Feature","id":4,"geometry":null,"properties":{}}`,
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %s, want %s", i, lines[i], want[i])
		}
	}
}
