package translator

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

func TestIdentify_HitsBufferedBBox(t *testing.T) {
	var gotBBox string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/parks-collection/queryables", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, queryablesDoc)
	})
	mux.HandleFunc("GET /collections/parks-collection/items", func(w http.ResponseWriter, r *http.Request) {
		gotBBox = r.URL.Query().Get("bbox")
		if lim := r.URL.Query().Get("limit"); lim != strconv.Itoa(identifyLimit) {
			t.Errorf("limit: %q", lim)
		}
		_, _ = io.WriteString(w, activeFeaturesDoc)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	results, err := tr.Identify(context.Background(), "parks", IdentifyParams{
		Point:     esri.Point{X: 7.5, Y: 46.5},
		SR:        4326,
		Tolerance: 5,
		MapExtent: model.BBox{XMin: 7, YMin: 46, XMax: 8, YMax: 47},
		Display:   model.Size{Width: 400, Height: 400},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.LayerID != 0 || r.LayerName != "parks" {
			t.Fatalf("layer attribution: %+v", r)
		}
		if r.DisplayFieldName != "status" {
			t.Fatalf("displayFieldName: %q", r.DisplayFieldName)
		}
		if r.Value == "" {
			t.Fatal("empty identify value")
		}
		if r.Geometry == nil {
			t.Fatal("missing geometry")
		}
	}

	// 5px at (1 degree / 400px) buffers the point by 0.0125 degrees
	var xmin, ymin, xmax, ymax float64
	if _, err := fmt.Sscanf(gotBBox, "%g,%g,%g,%g", &xmin, &ymin, &xmax, &ymax); err != nil {
		t.Fatalf("bbox %q: %v", gotBBox, err)
	}
	for i, got := range []float64{xmin - 7.4875, ymin - 46.4875, xmax - 7.5125, ymax - 46.5125} {
		if math.Abs(got) > 1e-9 {
			t.Fatalf("bbox coord %d off by %g in %q", i, got, gotBBox)
		}
	}
}

func TestIdentify_ZeroToleranceIsPointQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/parks-collection/queryables", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, queryablesDoc)
	})
	mux.HandleFunc("GET /collections/parks-collection/items", func(w http.ResponseWriter, r *http.Request) {
		if bbox := r.URL.Query().Get("bbox"); bbox != "7.5,46.5,7.5,46.5" {
			t.Errorf("bbox: %q", bbox)
		}
		_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	results, err := tr.Identify(context.Background(), "parks", IdentifyParams{
		Point:     esri.Point{X: 7.5, Y: 46.5},
		MapExtent: model.BBox{XMin: 7, YMin: 46, XMax: 8, YMax: 47},
		Display:   model.Size{Width: 400, Height: 400},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("want no results, got %d", len(results))
	}
}

func TestIdentify_RejectsBadParams(t *testing.T) {
	tr := newTestTranslator(t, "http://localhost:1", Options{})

	cases := []IdentifyParams{
		{Tolerance: -1, MapExtent: model.BBox{XMax: 1, YMax: 1}, Display: model.Size{Width: 1, Height: 1}},
		{MapExtent: model.BBox{}, Display: model.Size{Width: 400, Height: 400}},
		{MapExtent: model.BBox{XMax: 1, YMax: 1}, Display: model.Size{}},
	}
	for i, p := range cases {
		_, err := tr.Identify(context.Background(), "parks", p)
		if apperr.KindOf(err) != apperr.BadRequest {
			t.Errorf("case %d: kind %v want BadRequest", i, apperr.KindOf(err))
		}
	}
}
