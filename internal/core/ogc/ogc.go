// Package ogc builds OGC API requests for the pygeoapi backend and decodes
// its responses.
package ogc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

func CollectionEndpoint(base, collection string) string {
	return strings.TrimRight(base, "/") + "/collections/" + url.PathEscape(collection)
}

func ItemsEndpoint(base, collection string) string {
	return CollectionEndpoint(base, collection) + "/items"
}

func QueryablesEndpoint(base, collection string) string {
	return CollectionEndpoint(base, collection) + "/queryables"
}

func MapEndpoint(base, collection string) string {
	return CollectionEndpoint(base, collection) + "/map"
}

type ItemsQuery struct {
	BBox   *model.BBox
	Filter string
	Limit  int
}

func BuildItemsParams(q ItemsQuery) url.Values {
	params := url.Values{}
	params.Set("f", "json")
	if q.BBox != nil {
		params.Set("bbox", q.BBox.String())
	}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
		params.Set("filter-lang", "cql-text")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func BuildMapParams(b model.BBox, size model.Size) url.Values {
	params := url.Values{}
	params.Set("f", "png")
	params.Set("bbox", b.String())
	params.Set("width", strconv.Itoa(size.Width))
	params.Set("height", strconv.Itoa(size.Height))
	return params
}

type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type Feature struct {
	Type       string         `json:"type"`
	ID         any            `json:"id,omitempty"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type FeatureCollection struct {
	Type           string    `json:"type"`
	Features       []Feature `json:"features"`
	NumberMatched  int       `json:"numberMatched,omitempty"`
	NumberReturned int       `json:"numberReturned,omitempty"`
}

func DecodeFeatureCollection(r io.Reader) (FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return FeatureCollection{}, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return FeatureCollection{}, fmt.Errorf("unexpected document type %q", fc.Type)
	}
	return fc, nil
}

// Queryables is the JSON Schema document served at /queryables.
type Queryables struct {
	Title      string                   `json:"title"`
	Properties map[string]QueryableProp `json:"properties"`
}

type QueryableProp struct {
	Title  string `json:"title"`
	Type   string `json:"type"`
	Format string `json:"format"`
}

func DecodeQueryables(r io.Reader) (Queryables, error) {
	var q Queryables
	if err := json.NewDecoder(r).Decode(&q); err != nil {
		return Queryables{}, fmt.Errorf("decode queryables: %w", err)
	}
	return q, nil
}

// GeometryTypeFromFormat recognizes pygeoapi's geometry-* formats in the
// queryables document ("geometry-point", "geometry-polygon", ...).
func GeometryTypeFromFormat(format string) (model.GeometryType, bool) {
	switch {
	case strings.HasPrefix(format, "geometry-point") || strings.HasPrefix(format, "geometry-multipoint"):
		return model.GeometryPoint, true
	case strings.HasPrefix(format, "geometry-linestring") || strings.HasPrefix(format, "geometry-multilinestring"):
		return model.GeometryLine, true
	case strings.HasPrefix(format, "geometry-polygon") || strings.HasPrefix(format, "geometry-multipolygon"):
		return model.GeometryPolygon, true
	}
	return "", false
}

// IsGeometryProp reports whether a queryable property describes the
// geometry column rather than an attribute.
func IsGeometryProp(name string, p QueryableProp) bool {
	if strings.HasPrefix(p.Format, "geometry") {
		return true
	}
	return name == "geometry" || name == "geom"
}
