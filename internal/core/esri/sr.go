package esri

import (
	"math"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

// EPSG codes the proxy can transform between.
const (
	SRWGS84       = 4326
	SRCRS84       = 84 // OGC CRS84, axis-order alias of 4326
	SRWebMercator = 3857
)

const (
	earthRadius = 6378137.0
	maxLatitude = 85.05112878
)

// Transform maps one coordinate pair between two spatial references. It is a
// pure function; the identity transform is returned whenever source and
// target codes are equal, whatever the code.
type Transform func(x, y float64) (float64, float64)

func identity(x, y float64) (float64, float64) { return x, y }

func normalizeSR(code int) int {
	if code == SRCRS84 {
		return SRWGS84
	}
	return code
}

// NewTransform validates the spatial reference pair once and returns the
// coordinate mapping. Unsupported pairs fail with BadRequest.
func NewTransform(from, to int) (Transform, error) {
	from, to = normalizeSR(from), normalizeSR(to)
	if from == to {
		return identity, nil
	}
	switch {
	case from == SRWGS84 && to == SRWebMercator:
		return lonLatToMercator, nil
	case from == SRWebMercator && to == SRWGS84:
		return mercatorToLonLat, nil
	}
	return nil, apperr.Errorf(apperr.BadRequest,
		"unsupported spatial reference pair %d -> %d", from, to)
}

func lonLatToMercator(lon, lat float64) (float64, float64) {
	if lat > maxLatitude {
		lat = maxLatitude
	}
	if lat < -maxLatitude {
		lat = -maxLatitude
	}
	x := earthRadius * lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// TransformBBox applies the transform to both corners.
func TransformBBox(b model.BBox, tf Transform) model.BBox {
	xMin, yMin := tf(b.XMin, b.YMin)
	xMax, yMax := tf(b.XMax, b.YMax)
	return model.BBox{XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}
}
