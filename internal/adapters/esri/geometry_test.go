package esri

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geosplit/internal/domain"
)

func TestDecodeGeometry(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    orb.Geometry
		wantErr error
	}{
		{"missing", ``, nil, nil},
		{"null", `null`, nil, nil},
		{"empty object", `{}`, nil, nil},
		{"point", `{"x": 1.5, "y": 2.5, "spatialReference": {"wkid": 4326}}`, orb.Point{1.5, 2.5}, nil},
		{"point z", `{"x": 1, "y": 2, "z": 3}`, orb.Point{1, 2}, nil},
		{"empty point", `{"x": null, "y": null}`, nil, nil},
		{"multipoint", `{"points": [[1, 2], [3, 4, 5]]}`, orb.MultiPoint{{1, 2}, {3, 4}}, nil},
		{"polyline single", `{"paths": [[[0, 0], [1, 1]]]}`, orb.LineString{{0, 0}, {1, 1}}, nil},
		{"polyline multi", `{"paths": [[[0, 0], [1, 1]], [[2, 2], [3, 3]]]}`, orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}, nil},
		{
			"polygon with hole",
			`{"rings": [[[0, 0], [0, 10], [10, 10], [10, 0], [0, 0]], [[2, 2], [4, 2], [4, 4], [2, 4], [2, 2]]]}`,
			orb.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, {{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}},
			nil,
		},
		{"envelope", `{"xmin": 0, "ymin": 1, "xmax": 2, "ymax": 3}`, orb.Bound{Min: orb.Point{0, 1}, Max: orb.Point{2, 3}}.ToPolygon(), nil},
		{"short coordinate", `{"points": [[1]]}`, nil, domain.ErrInvalidInput},
		{"curves", `{"curvePaths": [[[0, 0]]]}`, nil, domain.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeGeometry([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("decodeGeometry() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("decodeGeometry() = %v, want nil", got)
				}
				return
			}
			if got == nil || !orb.Equal(got, tt.want) {
				t.Errorf("decodeGeometry() = %v, want %v", got, tt.want)
			}
		})
	}
}
