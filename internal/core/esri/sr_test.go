package esri

import (
	"math"
	"testing"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

func TestNewTransform_IdentityForEqualCodes(t *testing.T) {
	// identity must hold for any code, including ones we cannot reproject
	for _, code := range []int{4326, 3857, 2056, 21781} {
		tf, err := NewTransform(code, code)
		if err != nil {
			t.Fatalf("identity transform %d: %v", code, err)
		}
		x, y := tf(7.44, 46.95)
		if x != 7.44 || y != 46.95 {
			t.Fatalf("identity for %d moved point to %g,%g", code, x, y)
		}
	}
}

func TestNewTransform_CRS84Alias(t *testing.T) {
	tf, err := NewTransform(84, 4326)
	if err != nil {
		t.Fatalf("CRS84 alias: %v", err)
	}
	if x, y := tf(1, 2); x != 1 || y != 2 {
		t.Fatalf("CRS84->4326 should be identity, got %g,%g", x, y)
	}
}

func TestNewTransform_UnsupportedPair(t *testing.T) {
	_, err := NewTransform(4326, 2056)
	if err == nil {
		t.Fatal("expected error for unsupported pair")
	}
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("got kind %v want BadRequest", apperr.KindOf(err))
	}
}

func TestMercatorRoundTrip(t *testing.T) {
	fwd, err := NewTransform(4326, 3857)
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewTransform(3857, 4326)
	if err != nil {
		t.Fatal(err)
	}

	pts := [][2]float64{{0, 0}, {7.447, 46.948}, {-122.42, 37.77}, {179.9, -85}}
	for _, p := range pts {
		x, y := fwd(p[0], p[1])
		lon, lat := back(x, y)
		if math.Abs(lon-p[0]) > 1e-9 || math.Abs(lat-p[1]) > 1e-9 {
			t.Errorf("round trip %v -> %g,%g", p, lon, lat)
		}
	}
}

func TestMercator_KnownPoint(t *testing.T) {
	fwd, _ := NewTransform(4326, 3857)
	x, y := fwd(180, 0)
	if math.Abs(x-20037508.342789244) > 1e-6 {
		t.Errorf("x at lon 180: got %f", x)
	}
	if math.Abs(y) > 1e-6 {
		t.Errorf("y at equator: got %f", y)
	}
}

func TestTransformBBox(t *testing.T) {
	tf, _ := NewTransform(4326, 4326)
	in := model.BBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4}
	if got := TransformBBox(in, tf); got != in {
		t.Fatalf("identity bbox transform changed box: %+v", got)
	}
}
