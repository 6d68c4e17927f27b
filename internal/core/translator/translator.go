// Package translator maps ArcGIS MapServer REST operations onto OGC API
// calls against the pygeoapi backend and reshapes the results.
package translator

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/keys"
	"github.com/maxcollombin/mapserver-proxy/internal/core/catalog"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
	"github.com/maxcollombin/mapserver-proxy/internal/core/ogc"
)

type Options struct {
	Cache        cache.Interface
	CacheTTL     time.Duration
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

type Translator struct {
	log     *slog.Logger
	fetcher *fetcher
	catalog *catalog.Catalog
	base    string

	defaultLimit int
	maxLimit     int
}

func New(log *slog.Logger, client HTTPDoer, baseURL string, cat *catalog.Catalog, opts Options) (*Translator, error) {
	f, err := newFetcher(log, client, baseURL, opts.Timeout, opts.Cache, opts.CacheTTL)
	if err != nil {
		return nil, err
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 1000
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 10000
	}
	return &Translator{
		log:          log,
		fetcher:      f,
		catalog:      cat,
		base:         f.base,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
	}, nil
}

func (t *Translator) DescribeService(_ context.Context, name string) (model.ServiceDescriptor, error) {
	return t.catalog.Service(name)
}

func (t *Translator) DescribeLayer(ctx context.Context, name string, layerID int) (model.LayerDescriptor, error) {
	if _, err := t.catalog.Service(name); err != nil {
		return model.LayerDescriptor{}, err
	}
	return t.catalog.Layer(ctx, name, layerID)
}

// Query runs one MapServer layer query as a backend items call and shapes
// the result as an ESRI feature set.
func (t *Translator) Query(ctx context.Context, name string, layerID int, f model.QueryFilter) (*esri.FeatureSet, error) {
	fc, layer, svc, err := t.queryCollection(ctx, name, layerID, f)
	if err != nil {
		return nil, err
	}

	outSR := f.OutSR
	if outSR == 0 {
		outSR = svc.SRID
	}
	tf, err := esri.NewTransform(backendSR, outSR)
	if err != nil {
		return nil, err
	}

	fields := selectFields(layer.Fields, f.OutFields)
	set := &esri.FeatureSet{
		ObjectIDFieldName: objectIDField,
		GeometryType:      esri.GeometryTypeName(layer.GeometryType),
		SpatialReference:  esri.SpatialReference{WKID: outSR},
		Fields:            fieldInfos(fields),
		Features:          make([]esri.Feature, 0, len(fc.Features)),
	}

	for i, feat := range fc.Features {
		attrs := selectAttributes(feat.Properties, fields)
		attrs[objectIDField] = objectID(feat.ID, i)

		var geom any
		if f.ReturnGeometry && feat.Geometry != nil {
			geom, err = esri.GeometryFromGeoJSON(feat.Geometry.Type, feat.Geometry.Coordinates, tf)
			if err != nil {
				return nil, err
			}
		}
		set.Features = append(set.Features, esri.Feature{Attributes: attrs, Geometry: geom})
	}
	if fc.NumberMatched > fc.NumberReturned {
		set.ExceededTransferLimit = true
	}
	return set, nil
}

// QueryGeoJSON serves f=geojson: the backend FeatureCollection re-encoded
// with geometries transformed into the requested spatial reference.
func (t *Translator) QueryGeoJSON(ctx context.Context, name string, layerID int, f model.QueryFilter) (*ogc.FeatureCollection, error) {
	fc, _, svc, err := t.queryCollection(ctx, name, layerID, f)
	if err != nil {
		return nil, err
	}
	outSR := f.OutSR
	if outSR == 0 {
		outSR = svc.SRID
	}
	tf, err := esri.NewTransform(backendSR, outSR)
	if err != nil {
		return nil, err
	}
	for i := range fc.Features {
		g := fc.Features[i].Geometry
		if g == nil {
			continue
		}
		coords, err := esri.TransformGeoJSON(g.Type, g.Coordinates, tf)
		if err != nil {
			return nil, err
		}
		fc.Features[i].Geometry = &ogc.Geometry{Type: g.Type, Coordinates: coords}
	}
	return &fc, nil
}

// backendSR is pygeoapi's native spatial reference for items responses.
const backendSR = esri.SRWGS84

const objectIDField = "OBJECTID"

func (t *Translator) queryCollection(ctx context.Context, name string, layerID int, f model.QueryFilter) (ogc.FeatureCollection, model.LayerDescriptor, model.ServiceDescriptor, error) {
	var zeroFC ogc.FeatureCollection
	var zeroL model.LayerDescriptor
	var zeroS model.ServiceDescriptor

	svc, err := t.catalog.Service(name)
	if err != nil {
		return zeroFC, zeroL, zeroS, err
	}
	if !svc.Supports(model.OpQuery) {
		return zeroFC, zeroL, zeroS, apperr.Errorf(apperr.BadRequest,
			"service %q does not support query", name)
	}
	layer, err := t.catalog.Layer(ctx, name, layerID)
	if err != nil {
		return zeroFC, zeroL, zeroS, err
	}

	cql, err := esri.WhereToCQL(f.Where)
	if err != nil {
		return zeroFC, zeroL, zeroS, err
	}

	var bbox *model.BBox
	if f.BBox != nil {
		inSR := f.InSR
		if inSR == 0 {
			inSR = svc.SRID
		}
		tf, err := esri.NewTransform(inSR, backendSR)
		if err != nil {
			return zeroFC, zeroL, zeroS, err
		}
		b := esri.TransformBBox(*f.BBox, tf)
		bbox = &b
	}

	limit := f.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}
	if limit > t.maxLimit {
		limit = t.maxLimit
	}

	params := ogc.BuildItemsParams(ogc.ItemsQuery{BBox: bbox, Filter: cql, Limit: limit})
	u, err := url.Parse(ogc.ItemsEndpoint(t.base, layer.Collection))
	if err != nil {
		return zeroFC, zeroL, zeroS, apperr.Wrap(apperr.Internal, "build items url", err)
	}
	u.RawQuery = params.Encode()

	body, err := t.fetcher.getJSON(ctx, u, keys.Key(layer.Collection, "items", u.RawQuery))
	if err != nil {
		return zeroFC, zeroL, zeroS, err
	}
	fc, err := ogc.DecodeFeatureCollection(bytes.NewReader(body))
	if err != nil {
		return zeroFC, zeroL, zeroS, apperr.Wrap(apperr.Internal, "unexpected items response shape", err)
	}
	return fc, layer, svc, nil
}

func selectFields(all []model.Field, want []string) []model.Field {
	if len(want) == 0 {
		return all
	}
	for _, w := range want {
		if w == "*" {
			return all
		}
	}
	keep := make(map[string]bool, len(want))
	for _, w := range want {
		keep[w] = true
	}
	out := make([]model.Field, 0, len(want))
	for _, f := range all {
		if keep[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func fieldInfos(fields []model.Field) []esri.FieldInfo {
	out := make([]esri.FieldInfo, 0, len(fields)+1)
	out = append(out, esri.FieldInfo{Name: objectIDField, Type: "esriFieldTypeOID", Alias: objectIDField})
	for _, f := range fields {
		alias := f.Alias
		if alias == "" {
			alias = f.Name
		}
		out = append(out, esri.FieldInfo{Name: f.Name, Type: f.Type, Alias: alias})
	}
	return out
}

func selectAttributes(props map[string]any, fields []model.Field) map[string]any {
	attrs := make(map[string]any, len(fields)+1)
	for _, f := range fields {
		if v, ok := props[f.Name]; ok {
			attrs[f.Name] = v
		}
	}
	return attrs
}

// objectID prefers the backend feature id when it is numeric; otherwise the
// position within the result page keeps ids stable per response.
func objectID(id any, index int) int64 {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return int64(index + 1)
	}
}

