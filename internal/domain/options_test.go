package domain

import (
	"errors"
	"testing"
)

func TestSourceOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *SourceOptions)
		wantErr bool
	}{
		{"defaults", func(o *SourceOptions) {}, false},
		{"in_epsg", func(o *SourceOptions) { o.InEPSG = 25832 }, false},
		{"both overrides", func(o *SourceOptions) { o.InEPSG = 25832; o.InProj = "+proj=utm +zone=32" }, true},
		{"band zero", func(o *SourceOptions) { o.BandNumber = 0 }, true},
		{"negative page size", func(o *SourceOptions) { o.PageSize = -1 }, true},
		{"geohash too long", func(o *SourceOptions) { o.GeohashPrecision = 13 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultSourceOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() error should be a configuration error, got %v", err)
			}
		})
	}
}

func TestSourceOptionsSourceOverride(t *testing.T) {
	opts := DefaultSourceOptions()
	if _, ok := opts.SourceOverride(); ok {
		t.Error("defaults should not override the source CRS")
	}

	opts.InEPSG = 31467
	if crs, ok := opts.SourceOverride(); !ok || crs != EPSG(31467) {
		t.Errorf("SourceOverride() = %v, %v", crs, ok)
	}

	opts = DefaultSourceOptions()
	opts.InProj = "+proj=utm +zone=33 +ellps=GRS80"
	if crs, ok := opts.SourceOverride(); !ok || crs.Definition != opts.InProj {
		t.Errorf("SourceOverride() = %v, %v", crs, ok)
	}
}

func TestSourceOptionsTarget(t *testing.T) {
	opts := DefaultSourceOptions()
	if opts.Target() != WGS84() {
		t.Errorf("Target() = %v, want EPSG:4326", opts.Target())
	}
	opts.OutEPSG = 3857
	if opts.Target() != EPSG(3857) {
		t.Errorf("Target() = %v, want EPSG:3857", opts.Target())
	}
	opts.OutEPSG = 0
	if opts.Target() != WGS84() {
		t.Errorf("Target() with zero out_epsg = %v, want EPSG:4326", opts.Target())
	}
}
