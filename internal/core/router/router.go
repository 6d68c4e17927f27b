package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
	"github.com/maxcollombin/mapserver-proxy/internal/core/observability"
	"github.com/maxcollombin/mapserver-proxy/internal/core/ogc"
	"github.com/maxcollombin/mapserver-proxy/internal/core/translator"
	"github.com/maxcollombin/mapserver-proxy/internal/logger"
)

// currentVersion is the ArcGIS Server REST API version the proxy claims.
const currentVersion = 10.91

// Proxy receives validated MapServer requests and serves them from the
// backend.
type Proxy interface {
	DescribeService(ctx context.Context, name string) (model.ServiceDescriptor, error)
	DescribeLayer(ctx context.Context, name string, layerID int) (model.LayerDescriptor, error)
	Query(ctx context.Context, name string, layerID int, f model.QueryFilter) (*esri.FeatureSet, error)
	QueryGeoJSON(ctx context.Context, name string, layerID int, f model.QueryFilter) (*ogc.FeatureCollection, error)
	ExportMap(ctx context.Context, name string, bbox model.BBox, size model.Size, layerIDs []int, bboxSR int) ([]byte, error)
	Identify(ctx context.Context, name string, p translator.IdentifyParams) ([]esri.IdentifyResult, error)
}

// serves the service metadata document
func ServiceInfo(logger *slog.Logger, p Proxy) http.HandlerFunc {
	return instrument("/{service}/MapServer", func(w http.ResponseWriter, r *http.Request) {
		if err := checkFormat(r, "json"); err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		svc, err := p.DescribeService(r.Context(), chi.URLParam(r, "service"))
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		writeJSON(w, serviceDoc(svc))
	})
}

// serves one layer's metadata document
func LayerInfo(logger *slog.Logger, p Proxy) http.HandlerFunc {
	return instrument("/{service}/MapServer/{layer}", func(w http.ResponseWriter, r *http.Request) {
		if err := checkFormat(r, "json"); err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		layerID, err := parseLayerID(chi.URLParam(r, "layer"))
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		layer, err := p.DescribeLayer(r.Context(), chi.URLParam(r, "service"), layerID)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		writeJSON(w, layerDoc(layer))
	})
}

// validates query params and serves the feature set
func Query(logger *slog.Logger, p Proxy) http.HandlerFunc {
	return instrument("/{service}/MapServer/{layer}/query", func(w http.ResponseWriter, r *http.Request) {
		format, err := queryFormat(r)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		layerID, err := parseLayerID(chi.URLParam(r, "layer"))
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		filter, warn, err := ParseQueryFilter(r)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}

		service := chi.URLParam(r, "service")
		if format == "geojson" {
			fc, err := p.QueryGeoJSON(r.Context(), service, layerID, filter)
			if err != nil {
				writeError(r.Context(), logger, w, err)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			_ = json.NewEncoder(w).Encode(fc)
			return
		}
		set, err := p.Query(r.Context(), service, layerID, filter)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		writeJSON(w, set)
	})
}

// validates export params and serves the rendered image
func Export(logger *slog.Logger, p Proxy) http.HandlerFunc {
	return instrument("/{service}/MapServer/export", func(w http.ResponseWriter, r *http.Request) {
		if err := checkFormat(r, "image"); err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		q := r.URL.Query()

		bbox, err := parseBBox(q.Get("bbox"))
		if err != nil {
			writeError(r.Context(), logger, w, apperr.Wrap(apperr.BadRequest, "invalid bbox", err))
			return
		}
		size, err := parseSize(q.Get("size"))
		if err != nil {
			writeError(r.Context(), logger, w, apperr.Wrap(apperr.BadRequest, "invalid size", err))
			return
		}
		layerIDs, err := parseLayersSpec(q.Get("layers"))
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		bboxSR, err := parseSR(q.Get("bboxSR"))
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}

		img, err := p.ExportMap(r.Context(), chi.URLParam(r, "service"), bbox, size, layerIDs, bboxSR)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
}

// validates identify params and serves the results document
func Identify(logger *slog.Logger, p Proxy) http.HandlerFunc {
	return instrument("/{service}/MapServer/identify", func(w http.ResponseWriter, r *http.Request) {
		if err := checkFormat(r, "json"); err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		params, err := ParseIdentifyParams(r)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		results, err := p.Identify(r.Context(), chi.URLParam(r, "service"), params)
		if err != nil {
			writeError(r.Context(), logger, w, err)
			return
		}
		if results == nil {
			results = []esri.IdentifyResult{}
		}
		writeJSON(w, map[string]any{"results": results})
	})
}

// ParseQueryFilter validates the MapServer query parameters of r.
func ParseQueryFilter(r *http.Request) (model.QueryFilter, string, error) {
	q := r.URL.Query()
	var warn string

	filter := model.QueryFilter{
		Where:          strings.TrimSpace(q.Get("where")),
		ReturnGeometry: true,
	}

	if raw := strings.TrimSpace(q.Get("returnGeometry")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return model.QueryFilter{}, warn, apperr.Errorf(apperr.BadRequest, "invalid returnGeometry %q", raw)
		}
		filter.ReturnGeometry = v
	}

	if raw := strings.TrimSpace(q.Get("geometry")); raw != "" {
		if gt := q.Get("geometryType"); gt != "" && gt != "esriGeometryEnvelope" {
			return model.QueryFilter{}, warn, apperr.Errorf(apperr.BadRequest,
				"unsupported geometryType %q, only esriGeometryEnvelope is supported", gt)
		}
		bb, err := parseEnvelope(raw)
		if err != nil {
			return model.QueryFilter{}, warn, apperr.Wrap(apperr.BadRequest, "invalid geometry", err)
		}
		filter.BBox = &bb
	}
	if rel := q.Get("spatialRel"); rel != "" && rel != "esriSpatialRelIntersects" {
		warn = fmt.Sprintf("spatialRel %q treated as esriSpatialRelIntersects", rel)
	}

	var err error
	if filter.InSR, err = parseSR(q.Get("inSR")); err != nil {
		return model.QueryFilter{}, warn, err
	}
	if filter.OutSR, err = parseSR(q.Get("outSR")); err != nil {
		return model.QueryFilter{}, warn, err
	}

	if raw := strings.TrimSpace(q.Get("resultRecordCount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return model.QueryFilter{}, warn, apperr.Errorf(apperr.BadRequest, "invalid resultRecordCount %q", raw)
		}
		filter.Limit = n
	}

	if raw := strings.TrimSpace(q.Get("outFields")); raw != "" && raw != "*" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				return model.QueryFilter{}, warn, apperr.E(apperr.BadRequest, "empty field name in outFields")
			}
			filter.OutFields = append(filter.OutFields, name)
		}
	}
	return filter, warn, nil
}

// ParseIdentifyParams validates the MapServer identify parameters of r.
func ParseIdentifyParams(r *http.Request) (translator.IdentifyParams, error) {
	q := r.URL.Query()
	var p translator.IdentifyParams

	pt, err := parsePoint(q.Get("geometry"))
	if err != nil {
		return p, apperr.Wrap(apperr.BadRequest, "invalid geometry", err)
	}
	if gt := q.Get("geometryType"); gt != "" && gt != "esriGeometryPoint" {
		return p, apperr.Errorf(apperr.BadRequest,
			"unsupported geometryType %q, only esriGeometryPoint is supported", gt)
	}
	p.Point = pt

	if p.SR, err = parseSR(q.Get("sr")); err != nil {
		return p, err
	}

	if raw := strings.TrimSpace(q.Get("tolerance")); raw != "" {
		if p.Tolerance, err = strconv.Atoi(raw); err != nil {
			return p, apperr.Errorf(apperr.BadRequest, "invalid tolerance %q", raw)
		}
	}

	if p.MapExtent, err = parseBBox(q.Get("mapExtent")); err != nil {
		return p, apperr.Wrap(apperr.BadRequest, "invalid mapExtent", err)
	}
	if strings.TrimSpace(q.Get("imageDisplay")) == "" {
		return p, apperr.E(apperr.BadRequest, "missing required parameter: imageDisplay")
	}
	if p.Display, err = parseDisplay(q.Get("imageDisplay")); err != nil {
		return p, apperr.Wrap(apperr.BadRequest, "invalid imageDisplay", err)
	}
	if p.LayerIDs, err = parseLayersSpec(q.Get("layers")); err != nil {
		return p, err
	}
	return p, nil
}

func parseLayerID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, apperr.Errorf(apperr.BadRequest, "invalid layer id %q", raw)
	}
	return id, nil
}

// parseBBox reads the comma form "xmin,ymin,xmax,ymax".
func parseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: xmin,ymin,xmax,ymax")
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("coordinate %d: %w", i+1, err)
		}
		vals[i] = f
	}
	return model.BBox{XMin: vals[0], YMin: vals[1], XMax: vals[2], YMax: vals[3]}, nil
}

// parseEnvelope reads either the comma form or the JSON envelope object.
func parseEnvelope(raw string) (model.BBox, error) {
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return parseBBox(raw)
	}
	var env struct {
		XMin *float64 `json:"xmin"`
		YMin *float64 `json:"ymin"`
		XMax *float64 `json:"xmax"`
		YMax *float64 `json:"ymax"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return model.BBox{}, fmt.Errorf("parse json: %w", err)
	}
	if env.XMin == nil || env.YMin == nil || env.XMax == nil || env.YMax == nil {
		return model.BBox{}, errors.New("envelope requires xmin, ymin, xmax and ymax")
	}
	return model.BBox{XMin: *env.XMin, YMin: *env.YMin, XMax: *env.XMax, YMax: *env.YMax}, nil
}

// parsePoint reads either "x,y" or the JSON point object.
func parsePoint(raw string) (esri.Point, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return esri.Point{}, errors.New("missing required parameter: geometry")
	}
	if strings.HasPrefix(raw, "{") {
		var pt struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal([]byte(raw), &pt); err != nil {
			return esri.Point{}, fmt.Errorf("parse json: %w", err)
		}
		if pt.X == nil || pt.Y == nil {
			return esri.Point{}, errors.New("point requires x and y")
		}
		return esri.Point{X: *pt.X, Y: *pt.Y}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return esri.Point{}, errors.New(`expected "x,y"`)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return esri.Point{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return esri.Point{}, fmt.Errorf("y: %w", err)
	}
	return esri.Point{X: x, Y: y}, nil
}

// parseSize reads "width,height", defaulting to 400x400 when absent.
func parseSize(raw string) (model.Size, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Size{Width: 400, Height: 400}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return model.Size{}, errors.New(`expected "width,height"`)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return model.Size{}, fmt.Errorf("width: %w", err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return model.Size{}, fmt.Errorf("height: %w", err)
	}
	return model.Size{Width: w, Height: h}, nil
}

// parseDisplay reads the identify "width,height,dpi" triple. The dpi is
// accepted and ignored.
func parseDisplay(raw string) (model.Size, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 3 {
		if _, err := strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
			return model.Size{}, fmt.Errorf("dpi: %w", err)
		}
		parts = parts[:2]
	}
	return parseSize(strings.Join(parts, ","))
}

// parseLayersSpec reads the MapServer layer list: "show:0,1", "all:0",
// "visible:0" and "top:0" prefixes, a bare id list, or empty/"all" for
// every layer. Layers have no sublayers here, so show/all/visible are
// equivalent id lists; top keeps only the first id.
func parseLayersSpec(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	top := false
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		switch strings.ToLower(prefix) {
		case "show", "all", "visible":
		case "top":
			top = true
		default:
			return nil, apperr.Errorf(apperr.BadRequest, "unsupported layers prefix %q", prefix)
		}
		raw = rest
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id < 0 {
			return nil, apperr.Errorf(apperr.BadRequest, "invalid layer id %q in layers", part)
		}
		ids = append(ids, id)
	}
	if top && len(ids) > 1 {
		ids = ids[:1]
	}
	return ids, nil
}

// parseSR reads a spatial reference given as a bare wkid or as the JSON
// object form. Zero means "use the service default".
func parseSR(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.HasPrefix(raw, "{") {
		var sr struct {
			WKID int `json:"wkid"`
		}
		if err := json.Unmarshal([]byte(raw), &sr); err != nil || sr.WKID == 0 {
			return 0, apperr.Errorf(apperr.BadRequest, "invalid spatial reference %q", raw)
		}
		return sr.WKID, nil
	}
	wkid, err := strconv.Atoi(raw)
	if err != nil || wkid <= 0 {
		return 0, apperr.Errorf(apperr.BadRequest, "invalid spatial reference %q", raw)
	}
	return wkid, nil
}

// queryFormat resolves the query f parameter; json is the default.
func queryFormat(r *http.Request) (string, error) {
	switch f := strings.ToLower(r.URL.Query().Get("f")); f {
	case "", "json", "pjson":
		return "json", nil
	case "geojson":
		return "geojson", nil
	default:
		return "", apperr.Errorf(apperr.BadRequest, "unsupported format %q", f)
	}
}

// checkFormat enforces the single format an endpoint supports.
func checkFormat(r *http.Request, want string) error {
	f := strings.ToLower(r.URL.Query().Get("f"))
	switch {
	case f == "" || f == want:
		return nil
	case want == "json" && f == "pjson":
		return nil
	case want == "image" && (f == "png" || f == "png32"):
		return nil
	default:
		return apperr.Errorf(apperr.BadRequest, "unsupported format %q", f)
	}
}

func serviceDoc(svc model.ServiceDescriptor) map[string]any {
	layers := make([]map[string]any, 0, len(svc.Layers))
	for _, l := range svc.Layers {
		layers = append(layers, map[string]any{
			"id":                l.ID,
			"name":              l.Name,
			"parentLayerId":     -1,
			"defaultVisibility": true,
			"subLayerIds":       nil,
		})
	}
	return map[string]any{
		"currentVersion":            currentVersion,
		"name":                      svc.Name,
		"mapName":                   "Layers",
		"serviceDescription":        "",
		"capabilities":              capabilities(svc.Operations),
		"supportedImageFormatTypes": "PNG",
		"supportedQueryFormats":     "JSON, geoJSON",
		"spatialReference":          esri.SpatialReference{WKID: svc.SRID},
		"singleFusedMapCache":       false,
		"fullExtent":                extentDoc(svc.FullExtent, svc.SRID),
		"initialExtent":             extentDoc(svc.FullExtent, svc.SRID),
		"layers":                    layers,
	}
}

func extentDoc(b model.BBox, srid int) map[string]any {
	return map[string]any{
		"xmin":             b.XMin,
		"ymin":             b.YMin,
		"xmax":             b.XMax,
		"ymax":             b.YMax,
		"spatialReference": esri.SpatialReference{WKID: srid},
	}
}

func layerDoc(l model.LayerDescriptor) map[string]any {
	fields := make([]esri.FieldInfo, 0, len(l.Fields)+1)
	fields = append(fields, esri.FieldInfo{Name: "OBJECTID", Type: "esriFieldTypeOID", Alias: "OBJECTID"})
	for _, f := range l.Fields {
		alias := f.Alias
		if alias == "" {
			alias = f.Name
		}
		fields = append(fields, esri.FieldInfo{Name: f.Name, Type: f.Type, Alias: alias})
	}
	return map[string]any{
		"currentVersion": currentVersion,
		"id":             l.ID,
		"name":           l.Name,
		"type":           "Feature Layer",
		"geometryType":   esri.GeometryTypeName(l.GeometryType),
		"objectIdField":  "OBJECTID",
		"fields":         fields,
		"capabilities":   "Map,Query",
	}
}

// capabilities maps the configured operation set onto the ArcGIS
// capability names.
func capabilities(ops []model.Operation) string {
	caps := make([]string, 0, len(ops))
	for _, op := range ops {
		switch op {
		case model.OpExport:
			caps = append(caps, "Map")
		case model.OpQuery:
			caps = append(caps, "Query")
		case model.OpIdentify:
			caps = append(caps, "Identify")
		}
	}
	return strings.Join(caps, ",")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with the request metrics for one route and
// tags the context with the addressed service for log correlation.
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if svc := chi.URLParam(r, "service"); svc != "" {
			r = r.WithContext(logger.WithService(r.Context(), svc))
		}
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the ArcGIS REST error envelope. Server-side failures
// are logged with the wrapped cause; client errors are not.
func writeError(ctx context.Context, l *slog.Logger, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	observability.IncTranslationError(kind.String())
	switch kind {
	case apperr.Internal:
		l.ErrorContext(ctx, "request failed", "kind", kind.String(), "err", err)
	case apperr.Upstream, apperr.Timeout:
		l.WarnContext(ctx, "backend failure", "kind", kind.String(), "err", err)
	}
	status := apperr.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": err.Error(),
			"details": []string{},
		},
	})
}
