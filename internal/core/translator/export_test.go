package translator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExportMap_RejectsDegenerateBBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("backend must not be called, got %s", r.URL)
	}))
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	cases := []model.BBox{
		{XMin: 0, YMin: 0, XMax: 0, YMax: 0},
		{XMin: 5, YMin: 0, XMax: 5, YMax: 10},
		{XMin: 10, YMin: 10, XMax: 0, YMax: 20},
	}
	for _, bbox := range cases {
		_, err := tr.ExportMap(context.Background(), "parks", bbox, model.Size{Width: 400, Height: 400}, nil, 0)
		if apperr.KindOf(err) != apperr.BadRequest {
			t.Errorf("bbox %s: kind %v want BadRequest", bbox.String(), apperr.KindOf(err))
		}
	}
}

func TestExportMap_RejectsNonPositiveSize(t *testing.T) {
	tr := newTestTranslator(t, "http://localhost:1", Options{})
	bbox := model.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1}

	for _, size := range []model.Size{{Width: 0, Height: 400}, {Width: 400, Height: -1}} {
		_, err := tr.ExportMap(context.Background(), "parks", bbox, size, nil, 0)
		if apperr.KindOf(err) != apperr.BadRequest {
			t.Errorf("size %dx%d: kind %v want BadRequest", size.Width, size.Height, apperr.KindOf(err))
		}
	}
}

func TestExportMap_SingleLayerPassThrough(t *testing.T) {
	want := solidPNG(t, 64, 64, color.RGBA{R: 255, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/parks-collection/map" {
			t.Errorf("path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("f") != "png" || q.Get("width") != "64" || q.Get("height") != "64" {
			t.Errorf("query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(want)
	}))
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	got, err := tr.ExportMap(context.Background(), "parks",
		model.BBox{XMin: 7, YMin: 46, XMax: 8, YMax: 47},
		model.Size{Width: 64, Height: 64}, nil, 4326)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("single layer export must pass the backend image through unchanged")
	}
}

func TestExportMap_CompositesLayersInOrder(t *testing.T) {
	bottom := solidPNG(t, 8, 8, color.RGBA{R: 255, A: 255})
	top := solidPNG(t, 8, 8, color.RGBA{B: 255, A: 255})

	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		switch r.URL.Path {
		case "/collections/roads/map":
			call++
			_, _ = w.Write(bottom)
		case "/collections/rivers/map":
			call++
			_, _ = w.Write(top)
		default:
			t.Errorf("path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := model.ServiceDescriptor{
		Name:       "basemap",
		Collection: "roads",
		SRID:       4326,
		Operations: []model.Operation{model.OpExport},
		Layers: []model.LayerDescriptor{
			{ID: 0, Name: "roads", Collection: "roads"},
			{ID: 1, Name: "rivers", Collection: "rivers"},
		},
	}
	tr := newTranslatorFor(t, srv.URL, svc)

	out, err := tr.ExportMap(context.Background(), "basemap",
		model.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		model.Size{Width: 8, Height: 8}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if call != 2 {
		t.Fatalf("want 2 backend map calls, got %d", call)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("composite bounds: %v", img.Bounds())
	}
	// opaque top layer wins everywhere
	r, _, b, _ := img.At(4, 4).RGBA()
	if r != 0 || b == 0 {
		t.Fatalf("pixel (4,4) = %v, want the top layer's blue", img.At(4, 4))
	}
}

func TestExportMap_UnknownLayerID(t *testing.T) {
	tr := newTestTranslator(t, "http://localhost:1", Options{})
	_, err := tr.ExportMap(context.Background(), "parks",
		model.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		model.Size{Width: 4, Height: 4}, []int{9}, 0)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("kind %v want NotFound", apperr.KindOf(err))
	}
}

func TestExportMap_NonImageUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	_, err := tr.ExportMap(context.Background(), "parks",
		model.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		model.Size{Width: 4, Height: 4}, nil, 0)
	if apperr.KindOf(err) != apperr.Upstream {
		t.Fatalf("kind %v want Upstream", apperr.KindOf(err))
	}
}

func TestExportMap_WebMercatorBBox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bbox := r.URL.Query().Get("bbox")
		var xmin, ymin, xmax, ymax float64
		if _, err := fmt.Sscanf(bbox, "%g,%g,%g,%g", &xmin, &ymin, &xmax, &ymax); err != nil {
			t.Errorf("bbox %q: %v", bbox, err)
		}
		// 3857 metres must arrive converted to degrees
		if xmax > 180 || ymax > 90 {
			t.Errorf("bbox not reprojected: %q", bbox)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(solidPNG(t, 4, 4, color.Black))
	}))
	defer srv.Close()
	tr := newTestTranslator(t, srv.URL, Options{})

	_, err := tr.ExportMap(context.Background(), "parks",
		model.BBox{XMin: 779236, YMin: 5783556, XMax: 913575, YMax: 5912330},
		model.Size{Width: 4, Height: 4}, nil, 3857)
	if err != nil {
		t.Fatal(err)
	}
}
