package esri

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Service implements output.FeatureService for one layer URL.
type Service struct {
	base    *url.URL
	factory *Factory

	oidField string
}

var _ output.FeatureService = (*Service)(nil)

type spatialReference struct {
	WKID       int    `json:"wkid"`
	LatestWKID int    `json:"latestWkid"`
	WKT        string `json:"wkt"`
}

// esriWebMercator lists ESRI's own codes for Web Mercator.
var esriWebMercator = map[int]bool{102100: true, 102113: true, 900913: true}

// crs prefers latestWkid over wkid over wkt.
func (s *spatialReference) crs() domain.CRS {
	if s == nil {
		return domain.CRS{}
	}
	for _, code := range []int{s.LatestWKID, s.WKID} {
		if esriWebMercator[code] {
			return domain.EPSG(domain.EPSGWebMercator)
		}
		if code > 0 {
			return domain.EPSG(code)
		}
	}
	if s.WKT != "" {
		return domain.Defined(s.WKT)
	}
	return domain.CRS{}
}

type layerInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	GeometryType   string `json:"geometryType"`
	ObjectIDField  string `json:"objectIdField"`
	MaxRecordCount int    `json:"maxRecordCount"`
	Extent         *struct {
		SpatialReference *spatialReference `json:"spatialReference"`
	} `json:"extent"`
	SourceSpatialReference *spatialReference `json:"sourceSpatialReference"`
	Fields                 []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// Describe implements output.FeatureService.
func (s *Service) Describe(ctx context.Context) (domain.ServiceInfo, error) {
	var info layerInfo
	if err := s.factory.getJSON(ctx, "esri_describe", s.factory.endpoint(s.base, "", nil), &info); err != nil {
		return domain.ServiceInfo{}, err
	}

	oid := info.ObjectIDField
	if oid == "" {
		for _, f := range info.Fields {
			if f.Type == "esriFieldTypeOID" {
				oid = f.Name
				break
			}
		}
	}
	if oid == "" {
		return domain.ServiceInfo{}, fmt.Errorf("layer %q has no object id field: %w", info.Name, domain.ErrMalformedResponse)
	}
	s.oidField = oid

	var crs domain.CRS
	if info.Extent != nil {
		crs = info.Extent.SpatialReference.crs()
	}
	if crs.IsZero() {
		crs = info.SourceSpatialReference.crs()
	}

	return domain.ServiceInfo{
		Name:           info.Name,
		ObjectIDField:  oid,
		MaxRecordCount: info.MaxRecordCount,
		GeometryType:   geometryType(info.GeometryType),
		CRS:            crs,
	}, nil
}

// Count implements output.FeatureService.
func (s *Service) Count(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("where", "1=1")
	q.Set("returnCountOnly", "true")

	var resp struct {
		Count *int64 `json:"count"`
	}
	if err := s.factory.getJSON(ctx, "esri_count", s.factory.endpoint(s.base, "query", q), &resp); err != nil {
		return 0, err
	}
	if resp.Count == nil {
		return 0, fmt.Errorf("count missing: %w", domain.ErrMalformedResponse)
	}
	return *resp.Count, nil
}

type queryResponse struct {
	ExceededTransferLimit bool               `json:"exceededTransferLimit"`
	Features              *[]json.RawMessage `json:"features"`
}

type esriFeature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   json.RawMessage        `json:"geometry"`
}

// Page implements output.FeatureService. Describe must have been called so
// the object id field is known. A feature whose geometry cannot be decoded
// fails the whole page as malformed.
func (s *Service) Page(ctx context.Context, offset, limit int64) (output.FeaturePage, error) {
	if s.oidField == "" {
		if _, err := s.Describe(ctx); err != nil {
			return output.FeaturePage{}, err
		}
	}

	q := url.Values{}
	q.Set("where", "1=1")
	q.Set("outFields", "*")
	q.Set("returnGeometry", "true")
	q.Set("orderByFields", s.oidField+" ASC")
	q.Set("resultOffset", strconv.FormatInt(offset, 10))
	q.Set("resultRecordCount", strconv.FormatInt(limit, 10))

	var resp queryResponse
	if err := s.factory.getJSON(ctx, "esri_page", s.factory.endpoint(s.base, "query", q), &resp); err != nil {
		return output.FeaturePage{}, err
	}
	if resp.Features == nil {
		return output.FeaturePage{}, fmt.Errorf("page at offset %d has no features member: %w", offset, domain.ErrMalformedResponse)
	}

	features := make([]domain.Feature, 0, len(*resp.Features))
	for i, raw := range *resp.Features {
		var ef esriFeature
		if err := json.Unmarshal(raw, &ef); err != nil {
			return output.FeaturePage{}, fmt.Errorf("feature %d at offset %d: %w: %w", i, offset, domain.ErrMalformedResponse, err)
		}
		geom, err := decodeGeometry(ef.Geometry)
		if err != nil {
			return output.FeaturePage{}, fmt.Errorf("feature %d at offset %d: %w: %w", i, offset, domain.ErrMalformedResponse, err)
		}
		features = append(features, domain.Feature{
			Index:      offset + int64(i),
			ID:         ef.Attributes[s.oidField],
			Geometry:   geom,
			Properties: ef.Attributes,
		})
	}

	return output.FeaturePage{
		Features:              features,
		ExceededTransferLimit: resp.ExceededTransferLimit,
	}, nil
}
