package domain

import "strings"

// SourceOptions are the user-facing knobs shared by all sources.
type SourceOptions struct {
	SkipReproject    bool   `mapstructure:"skip_reproject"`
	InEPSG           int    `mapstructure:"in_epsg"`
	InProj           string `mapstructure:"in_proj"`
	OutEPSG          int    `mapstructure:"out_epsg"`
	BandNumber       int    `mapstructure:"band_number"`
	IncludeNoData    bool   `mapstructure:"include_nodata"`
	Polygonize       bool   `mapstructure:"polygonize"`
	LayerName        string `mapstructure:"layer_name"`
	GDBName          string `mapstructure:"gdb_name"`
	PageSize         int    `mapstructure:"page_size"`
	GeohashPrecision uint   `mapstructure:"geohash_precision"`
}

// DefaultSourceOptions returns options with defaults applied.
func DefaultSourceOptions() SourceOptions {
	return SourceOptions{
		OutEPSG:    EPSGWGS84,
		BandNumber: 1,
		PageSize:   1000,
	}
}

// Validate checks the options.
func (o SourceOptions) Validate() error {
	if o.InEPSG < 0 {
		return &ConfigError{Field: "in_epsg", Message: "must be a positive EPSG code"}
	}
	if o.InEPSG > 0 && strings.TrimSpace(o.InProj) != "" {
		return &ConfigError{Field: "in_proj", Message: "in_epsg and in_proj are mutually exclusive"}
	}
	if o.OutEPSG < 0 {
		return &ConfigError{Field: "out_epsg", Message: "must be a positive EPSG code"}
	}
	if o.BandNumber < 1 {
		return &ConfigError{Field: "band_number", Message: "band numbers start at 1"}
	}
	if o.PageSize < 0 {
		return &ConfigError{Field: "page_size", Message: "must not be negative"}
	}
	if o.GeohashPrecision > 12 {
		return &ConfigError{Field: "geohash_precision", Message: "must be between 0 and 12"}
	}
	return nil
}

// SourceOverride returns the CRS forced by in_epsg or in_proj.
func (o SourceOptions) SourceOverride() (CRS, bool) {
	if o.InEPSG > 0 {
		return EPSG(o.InEPSG), true
	}
	if p := strings.TrimSpace(o.InProj); p != "" {
		return Defined(p), true
	}
	return CRS{}, false
}

// Target returns the output CRS.
func (o SourceOptions) Target() CRS {
	if o.OutEPSG > 0 {
		return EPSG(o.OutEPSG)
	}
	return WGS84()
}
