package translator

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"net/url"
	"strings"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
	"github.com/maxcollombin/mapserver-proxy/internal/core/ogc"
)

// ExportMap renders the requested layers by delegating to the backend's
// OGC API Maps endpoint, one call per layer, compositing the results
// bottom-up into a single PNG. layerIDs nil means all layers.
func (t *Translator) ExportMap(ctx context.Context, name string, bbox model.BBox, size model.Size, layerIDs []int, bboxSR int) ([]byte, error) {
	if !size.Valid() {
		return nil, apperr.Errorf(apperr.BadRequest, "image size must be positive, got %dx%d", size.Width, size.Height)
	}
	if bbox.Degenerate() {
		return nil, apperr.Errorf(apperr.BadRequest, "degenerate bbox %s", bbox.String())
	}

	svc, err := t.catalog.Service(name)
	if err != nil {
		return nil, err
	}
	if !svc.Supports(model.OpExport) {
		return nil, apperr.Errorf(apperr.BadRequest, "service %q does not support export", name)
	}

	layers, err := resolveLayers(svc, layerIDs)
	if err != nil {
		return nil, err
	}

	if bboxSR == 0 {
		bboxSR = svc.SRID
	}
	tf, err := esri.NewTransform(bboxSR, backendSR)
	if err != nil {
		return nil, err
	}
	backendBBox := esri.TransformBBox(bbox, tf)

	params := ogc.BuildMapParams(backendBBox, size)
	images := make([][]byte, 0, len(layers))
	for _, layer := range layers {
		u, err := url.Parse(ogc.MapEndpoint(t.base, layer.Collection))
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "build map url", err)
		}
		u.RawQuery = params.Encode()

		body, ctype, err := t.fetcher.get(ctx, u, "image/png")
		if err != nil {
			return nil, err
		}
		if ctype != "" && !strings.HasPrefix(ctype, "image/") {
			return nil, apperr.Errorf(apperr.Upstream,
				"backend returned %q instead of an image", ctype)
		}
		images = append(images, body)
	}

	if len(images) == 1 {
		return images[0], nil
	}
	return compositePNG(images)
}

func resolveLayers(svc model.ServiceDescriptor, ids []int) ([]model.LayerDescriptor, error) {
	if len(ids) == 0 {
		return svc.Layers, nil
	}
	out := make([]model.LayerDescriptor, 0, len(ids))
	for _, id := range ids {
		l, ok := svc.Layer(id)
		if !ok {
			return nil, apperr.Errorf(apperr.NotFound, "service %q has no layer %d", svc.Name, id)
		}
		out = append(out, l)
	}
	return out, nil
}

// compositePNG stacks layer images in request order, first at the bottom.
func compositePNG(layers [][]byte) ([]byte, error) {
	var canvas *image.RGBA
	for _, raw := range layers {
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, apperr.Wrap(apperr.Upstream, "decode backend image", err)
		}
		if canvas == nil {
			canvas = image.NewRGBA(img.Bounds())
		}
		draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Over)
	}
	if canvas == nil {
		return nil, apperr.E(apperr.Internal, "no layer images to composite")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode composite png", err)
	}
	return buf.Bytes(), nil
}
