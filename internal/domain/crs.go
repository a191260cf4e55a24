// Package domain contains the core entities and value objects of geosplit.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Common EPSG codes.
const (
	EPSGWGS84       = 4326 // WGS 84
	EPSGWebMercator = 3857 // Web Mercator
)

// CRS identifies a coordinate reference system either by EPSG code or by a
// literal definition (PROJ string or WKT).
type CRS struct {
	EPSG       int    // EPSG code, 0 if defined literally
	Definition string // PROJ string or WKT when EPSG is 0
}

// EPSG returns the CRS for an EPSG code.
func EPSG(code int) CRS {
	return CRS{EPSG: code}
}

// WGS84 returns EPSG:4326.
func WGS84() CRS {
	return CRS{EPSG: EPSGWGS84}
}

// Defined returns a CRS from a PROJ string or WKT.
func Defined(definition string) CRS {
	return CRS{Definition: strings.TrimSpace(definition)}
}

// IsZero returns true if the CRS is unset.
func (c CRS) IsZero() bool {
	return c.EPSG == 0 && c.Definition == ""
}

// Equal reports whether both values name the same CRS textually.
func (c CRS) Equal(other CRS) bool {
	if c.EPSG != 0 || other.EPSG != 0 {
		return c.EPSG == other.EPSG
	}
	return c.Definition == other.Definition
}

// String returns a form accepted by PROJ: "EPSG:<code>" or the definition.
func (c CRS) String() string {
	if c.EPSG != 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	return c.Definition
}

// Validate checks the CRS for obvious errors.
func (c CRS) Validate() error {
	if c.EPSG < 0 {
		return &ValidationError{
			Field:      "epsg",
			Value:      c.EPSG,
			Constraint: "> 0",
			Message:    "EPSG codes are positive",
		}
	}
	if c.IsZero() {
		return &ValidationError{
			Field:      "crs",
			Value:      "",
			Constraint: "non-empty",
			Message:    "either an EPSG code or a definition is required",
		}
	}
	return nil
}

// ParseCRSName parses CRS names as found in GeoJSON "crs" members and
// service metadata: "EPSG:4326", "urn:ogc:def:crs:EPSG::4326",
// "urn:ogc:def:crs:OGC:1.3:CRS84" and bare integer codes.
func ParseCRSName(name string) (CRS, error) {
	n := strings.TrimSpace(name)
	upper := strings.ToUpper(n)

	switch {
	case upper == "":
		return CRS{}, fmt.Errorf("empty CRS name: %w", ErrInvalidInput)
	case strings.HasSuffix(upper, "CRS84"):
		return WGS84(), nil
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		parts := strings.Split(n, ":")
		return parseEPSGCode(parts[len(parts)-1])
	case strings.HasPrefix(upper, "EPSG:"):
		return parseEPSGCode(n[len("EPSG:"):])
	case strings.HasPrefix(upper, "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/"):
		parts := strings.Split(n, "/")
		return parseEPSGCode(parts[len(parts)-1])
	}

	if _, err := strconv.Atoi(n); err == nil {
		return parseEPSGCode(n)
	}
	return CRS{}, fmt.Errorf("unrecognised CRS name %q: %w", name, ErrUnsupported)
}

func parseEPSGCode(s string) (CRS, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || code <= 0 {
		return CRS{}, fmt.Errorf("invalid EPSG code %q: %w", s, ErrInvalidInput)
	}
	return EPSG(code), nil
}
