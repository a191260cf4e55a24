package application

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func skipZero(v float64) bool { return v == 0 }

func polygonArea(g orb.Geometry) float64 {
	switch geom := g.(type) {
	case orb.Polygon:
		a := signedArea(geom[0])
		for _, h := range geom[1:] {
			a -= math.Abs(signedArea(h))
		}
		return a
	case orb.MultiPolygon:
		var a float64
		for _, p := range geom {
			a += polygonArea(p)
		}
		return a
	}
	return 0
}

func TestPolygonizeSinglePixel(t *testing.T) {
	polys := polygonize([]float64{5}, 1, 1, skipZero)
	if len(polys) != 1 {
		t.Fatalf("got %d polygons, want 1", len(polys))
	}

	want := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	if !orb.Equal(polys[0].Geometry, want) {
		t.Errorf("polygon = %v, want %v", polys[0].Geometry, want)
	}
	if polys[0].Value != 5 {
		t.Errorf("value = %v, want 5", polys[0].Value)
	}
}

func TestPolygonizeMergesEqualValues(t *testing.T) {
	values := []float64{
		1, 1,
		2, 0,
	}
	polys := polygonize(values, 2, 2, skipZero)
	if len(polys) != 2 {
		t.Fatalf("got %d polygons, want 2", len(polys))
	}

	wantTop := orb.Polygon{{{0, 0}, {2, 0}, {2, 1}, {0, 1}, {0, 0}}}
	if polys[0].Value != 1 || !orb.Equal(polys[0].Geometry, wantTop) {
		t.Errorf("first polygon = %v (%v), want %v (1)", polys[0].Geometry, polys[0].Value, wantTop)
	}
	if polys[1].Value != 2 || polygonArea(polys[1].Geometry) != 1 {
		t.Errorf("second polygon = %v (%v)", polys[1].Geometry, polys[1].Value)
	}
}

func TestPolygonizeKeepsHoles(t *testing.T) {
	values := []float64{
		1, 1, 1,
		1, 7, 1,
		1, 1, 1,
	}
	polys := polygonize(values, 3, 3, skipZero)
	if len(polys) != 2 {
		t.Fatalf("got %d polygons, want 2", len(polys))
	}

	ring, ok := polys[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("ring component is %T, want orb.Polygon", polys[0].Geometry)
	}
	if len(ring) != 2 {
		t.Fatalf("ring component has %d rings, want shell and hole", len(ring))
	}
	if got := polygonArea(ring); got != 8 {
		t.Errorf("ring area = %v, want 8", got)
	}
	if len(ring[0]) != 5 || len(ring[1]) != 5 {
		t.Errorf("collinear vertices not dropped: shell %d, hole %d", len(ring[0]), len(ring[1]))
	}
	if polys[1].Value != 7 || polygonArea(polys[1].Geometry) != 1 {
		t.Errorf("center polygon = %v (%v)", polys[1].Geometry, polys[1].Value)
	}
}

func TestPolygonizeDiagonalPixelsStaySeparate(t *testing.T) {
	values := []float64{
		3, 0,
		0, 3,
	}
	polys := polygonize(values, 2, 2, skipZero)
	if len(polys) != 2 {
		t.Fatalf("got %d polygons, want 2 (4-connectivity)", len(polys))
	}
	for i, p := range polys {
		if got := polygonArea(p.Geometry); got != 1 {
			t.Errorf("polygon %d area = %v, want 1", i, got)
		}
	}
}

func TestPolygonizeAreaMatchesPixelCount(t *testing.T) {
	values := []float64{
		1, 1, 0, 2, 2,
		1, 0, 0, 2, 0,
		1, 1, 3, 2, 2,
		0, 1, 3, 3, 2,
		4, 1, 1, 0, 2,
	}
	polys := polygonize(values, 5, 5, skipZero)

	var area float64
	for _, p := range polys {
		a := polygonArea(p.Geometry)
		if a <= 0 {
			t.Errorf("polygon %v has non-positive area %v", p.Geometry, a)
		}
		area += a
	}

	var pixels int
	for _, v := range values {
		if v != 0 {
			pixels++
		}
	}
	if area != float64(pixels) {
		t.Errorf("total area = %v, want %d", area, pixels)
	}
}

func TestPolygonizeNaNGroupsTogether(t *testing.T) {
	nan := math.NaN()
	polys := polygonize([]float64{nan, nan}, 2, 1, func(float64) bool { return false })
	if len(polys) != 1 {
		t.Fatalf("got %d polygons, want 1", len(polys))
	}
}
