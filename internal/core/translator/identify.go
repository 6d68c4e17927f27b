package translator

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/keys"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
	"github.com/maxcollombin/mapserver-proxy/internal/core/ogc"
)

// IdentifyParams carries one identify call: a point in map units plus the
// current map extent and display size, which together turn the pixel
// tolerance into map units.
type IdentifyParams struct {
	Point     esri.Point
	SR        int
	Tolerance int
	MapExtent model.BBox
	Display   model.Size
	LayerIDs  []int
}

const identifyLimit = 10

// Identify buffers the point by the pixel tolerance and runs one bounded
// items query per requested layer.
func (t *Translator) Identify(ctx context.Context, name string, p IdentifyParams) ([]esri.IdentifyResult, error) {
	if p.Tolerance < 0 {
		return nil, apperr.E(apperr.BadRequest, "tolerance must not be negative")
	}
	if p.MapExtent.Degenerate() || !p.Display.Valid() {
		return nil, apperr.E(apperr.BadRequest, "identify requires a valid mapExtent and imageDisplay")
	}

	svc, err := t.catalog.Service(name)
	if err != nil {
		return nil, err
	}
	if !svc.Supports(model.OpIdentify) {
		return nil, apperr.Errorf(apperr.BadRequest, "service %q does not support identify", name)
	}
	layers, err := resolveLayers(svc, p.LayerIDs)
	if err != nil {
		return nil, err
	}

	sr := p.SR
	if sr == 0 {
		sr = svc.SRID
	}
	tf, err := esri.NewTransform(sr, backendSR)
	if err != nil {
		return nil, err
	}
	back, err := esri.NewTransform(backendSR, sr)
	if err != nil {
		return nil, err
	}

	// pixel tolerance to map units via the current extent and display size
	unitsPerPixel := (p.MapExtent.XMax - p.MapExtent.XMin) / float64(p.Display.Width)
	buffer := float64(p.Tolerance) * unitsPerPixel
	search := model.BBox{
		XMin: p.Point.X - buffer, YMin: p.Point.Y - buffer,
		XMax: p.Point.X + buffer, YMax: p.Point.Y + buffer,
	}
	backendBBox := esri.TransformBBox(search, tf)

	var results []esri.IdentifyResult
	for _, layer := range layers {
		full, err := t.catalog.Layer(ctx, name, layer.ID)
		if err != nil {
			return nil, err
		}

		params := ogc.BuildItemsParams(ogc.ItemsQuery{BBox: &backendBBox, Limit: identifyLimit})
		u, err := url.Parse(ogc.ItemsEndpoint(t.base, layer.Collection))
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "build items url", err)
		}
		u.RawQuery = params.Encode()

		body, err := t.fetcher.getJSON(ctx, u, keys.Key(layer.Collection, "identify", u.RawQuery))
		if err != nil {
			return nil, err
		}
		fc, err := ogc.DecodeFeatureCollection(bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "unexpected items response shape", err)
		}

		display := displayField(full.Fields)
		for _, feat := range fc.Features {
			res := esri.IdentifyResult{
				LayerID:          layer.ID,
				LayerName:        layer.Name,
				DisplayFieldName: display,
				Attributes:       feat.Properties,
				GeometryType:     esri.GeometryTypeName(full.GeometryType),
			}
			if v, ok := feat.Properties[display]; ok {
				res.Value = fmt.Sprint(v)
			}
			if feat.Geometry != nil {
				g, err := esri.GeometryFromGeoJSON(feat.Geometry.Type, feat.Geometry.Coordinates, back)
				if err != nil {
					return nil, err
				}
				res.Geometry = g
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// displayField picks the first string field as the human-readable label.
func displayField(fields []model.Field) string {
	for _, f := range fields {
		if f.Type == "esriFieldTypeString" {
			return f.Name
		}
	}
	if len(fields) > 0 {
		return fields[0].Name
	}
	return ""
}
