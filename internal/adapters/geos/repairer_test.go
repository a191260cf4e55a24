package geos

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func newTestRepairer(t *testing.T) *Repairer {
	t.Helper()
	r, err := NewFactory().NewRepairer()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r.(*Repairer)
}

func TestRepairerValidGeometryUnchanged(t *testing.T) {
	r := newTestRepairer(t)

	tests := []struct {
		name string
		geom orb.Geometry
	}{
		{"point", orb.Point{1, 2}},
		{"line", orb.LineString{{0, 0}, {1, 1}, {2, 0}}},
		{"square", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.MakeValid(tt.geom)
			if err != nil {
				t.Fatalf("MakeValid() unexpected error: %v", err)
			}
			if !orb.Equal(got, tt.geom) {
				t.Errorf("MakeValid() = %v, want %v", got, tt.geom)
			}
			if !r.IsAcceptable(tt.geom, got) {
				t.Error("IsAcceptable() = false for a valid geometry")
			}
		})
	}
}

func TestRepairerClosesRings(t *testing.T) {
	r := newTestRepairer(t)
	open := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}

	got, err := r.MakeValid(open)
	if err != nil {
		t.Fatal(err)
	}
	poly, ok := got.(orb.Polygon)
	if !ok {
		t.Fatalf("MakeValid() = %T, want Polygon", got)
	}
	if !poly[0].Closed() {
		t.Errorf("ring not closed: %v", poly[0])
	}
	if len(open[0]) != 4 {
		t.Errorf("input mutated: %v", open[0])
	}
}

func TestRepairerBowtie(t *testing.T) {
	r := newTestRepairer(t)
	bowtie := orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}

	got, err := r.MakeValid(bowtie)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsAcceptable(bowtie, got) {
		t.Fatalf("IsAcceptable() = false for %v", got)
	}
	if got.Dimensions() != 2 {
		t.Errorf("dimension = %d, want 2", got.Dimensions())
	}
	if area := planar.Area(got); area < 1.99 || area > 2.01 {
		t.Errorf("area = %f, want 2", area)
	}
}

func TestRepairerIdempotent(t *testing.T) {
	r := newTestRepairer(t)

	inputs := []orb.Geometry{
		orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}},
		orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}}, {{1, 1}, {5, 1}, {5, 2}, {1, 2}, {1, 1}}},
		orb.MultiPolygon{
			{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}},
			{{{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}}},
		},
	}

	for i, in := range inputs {
		once, err := r.MakeValid(in)
		if err != nil {
			t.Fatalf("input %d: %v", i, err)
		}
		twice, err := r.MakeValid(once)
		if err != nil {
			t.Fatalf("input %d second pass: %v", i, err)
		}
		if !orb.Equal(once, twice) {
			t.Errorf("input %d: MakeValid not idempotent: %v != %v", i, once, twice)
		}
	}
}

func TestRepairerRejectsCollapsed(t *testing.T) {
	r := newTestRepairer(t)
	flat := orb.Polygon{{{0, 0}, {1, 1}, {2, 2}, {0, 0}}}

	got, err := r.MakeValid(flat)
	if err == nil && r.IsAcceptable(flat, got) {
		t.Errorf("collapsed polygon accepted as %v", got)
	}
}

func TestKeepDimension(t *testing.T) {
	mixed := orb.Collection{
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		orb.LineString{{5, 5}, {6, 6}},
		orb.Point{9, 9},
	}

	if got := keepDimension(mixed, 2); got.GeoJSONType() != "Polygon" {
		t.Errorf("keepDimension(2) = %v", got)
	}
	if got := keepDimension(mixed, 1); got.GeoJSONType() != "LineString" {
		t.Errorf("keepDimension(1) = %v", got)
	}
	if got, ok := keepDimension(orb.Collection{orb.Point{1, 1}}, 2).(orb.MultiPolygon); !ok || len(got) != 0 {
		t.Errorf("keepDimension with no match = %v", got)
	}
}
