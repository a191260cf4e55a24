package domain

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestFeatureGetProperty(t *testing.T) {
	feature := Feature{
		Index: 1,
		Properties: map[string]interface{}{
			"name":  "test feature",
			"count": 42,
			"nil":   nil,
		},
	}

	tests := []struct {
		name    string
		key     string
		wantVal interface{}
		wantOK  bool
	}{
		{"existing string", "name", "test feature", true},
		{"existing int", "count", 42, true},
		{"existing nil", "nil", nil, true},
		{"non-existing", "missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := feature.GetProperty(tt.key)
			if ok != tt.wantOK {
				t.Errorf("GetProperty(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if val != tt.wantVal {
				t.Errorf("GetProperty(%q) val = %v, want %v", tt.key, val, tt.wantVal)
			}
		})
	}
}

func TestFeatureGetPropertyNilMap(t *testing.T) {
	feature := Feature{Index: 1}

	val, ok := feature.GetProperty("anything")
	if ok || val != nil {
		t.Error("GetProperty on nil map should return nil, false")
	}
}

func TestFeatureTypedProperties(t *testing.T) {
	feature := Feature{
		Properties: map[string]interface{}{
			"string": "hello",
			"int":    42,
			"int64":  int64(7),
			"float":  3.5,
		},
	}

	if got := feature.GetStringProperty("string"); got != "hello" {
		t.Errorf("GetStringProperty = %q", got)
	}
	if got := feature.GetStringProperty("int"); got != "" {
		t.Errorf("GetStringProperty on int = %q, want empty", got)
	}
	if got := feature.GetIntProperty("int64"); got != 7 {
		t.Errorf("GetIntProperty = %d, want 7", got)
	}
	if got := feature.GetIntProperty("float"); got != 3 {
		t.Errorf("GetIntProperty on float = %d, want 3", got)
	}
	if got := feature.GetFloatProperty("int"); got != 42 {
		t.Errorf("GetFloatProperty on int = %v, want 42", got)
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		geom orb.Geometry
		want GeometryType
	}{
		{"nil", nil, ""},
		{"point", orb.Point{1, 2}, GeomPoint},
		{"polygon", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, GeomPolygon},
		{"multi line", orb.MultiLineString{}, GeomMultiLineString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.geom); got != tt.want {
				t.Errorf("TypeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadStatsDefectCount(t *testing.T) {
	stats := ReadStats{
		Records: 10,
		Defects: map[string]int64{
			DefectGeometryInvalid: 2,
			DefectPageMalformed:   1,
		},
	}
	if got := stats.DefectCount(); got != 3 {
		t.Errorf("DefectCount() = %d, want 3", got)
	}
	if got := (ReadStats{}).DefectCount(); got != 0 {
		t.Errorf("DefectCount() on empty stats = %d, want 0", got)
	}
}
