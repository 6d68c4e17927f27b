package esri

import (
	"encoding/json"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

type SpatialReference struct {
	WKID int `json:"wkid"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Multipoint struct {
	Points [][]float64 `json:"points"`
}

type Polyline struct {
	Paths [][][]float64 `json:"paths"`
}

type Polygon struct {
	Rings [][][]float64 `json:"rings"`
}

// GeometryFromGeoJSON converts one GeoJSON geometry into its ESRI JSON
// counterpart, applying tf to every coordinate pair. ESRI polygons wind
// outer rings clockwise and holes counter-clockwise, the inverse of
// GeoJSON, so ring orientation is corrected during conversion.
func GeometryFromGeoJSON(typ string, coords json.RawMessage, tf Transform) (any, error) {
	switch typ {
	case "Point":
		var c []float64
		if err := json.Unmarshal(coords, &c); err != nil || len(c) < 2 {
			return nil, apperr.E(apperr.Internal, "malformed point coordinates from backend")
		}
		x, y := tf(c[0], c[1])
		return Point{X: x, Y: y}, nil

	case "MultiPoint":
		var cs [][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed multipoint coordinates from backend")
		}
		return Multipoint{Points: transformPositions(cs, tf)}, nil

	case "LineString":
		var cs [][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed linestring coordinates from backend")
		}
		return Polyline{Paths: [][][]float64{transformPositions(cs, tf)}}, nil

	case "MultiLineString":
		var cs [][][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed multilinestring coordinates from backend")
		}
		paths := make([][][]float64, 0, len(cs))
		for _, line := range cs {
			paths = append(paths, transformPositions(line, tf))
		}
		return Polyline{Paths: paths}, nil

	case "Polygon":
		var cs [][][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed polygon coordinates from backend")
		}
		return Polygon{Rings: polygonRings(cs, tf)}, nil

	case "MultiPolygon":
		var cs [][][][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed multipolygon coordinates from backend")
		}
		var rings [][][]float64
		for _, poly := range cs {
			rings = append(rings, polygonRings(poly, tf)...)
		}
		return Polygon{Rings: rings}, nil
	}
	return nil, apperr.Errorf(apperr.Internal, "unsupported geometry type %q from backend", typ)
}

// TransformGeoJSON rewrites the coordinates of a GeoJSON geometry under tf,
// keeping the GeoJSON shape. Used for f=geojson responses.
func TransformGeoJSON(typ string, coords json.RawMessage, tf Transform) (json.RawMessage, error) {
	var out any
	switch typ {
	case "Point":
		var c []float64
		if err := json.Unmarshal(coords, &c); err != nil || len(c) < 2 {
			return nil, apperr.E(apperr.Internal, "malformed point coordinates from backend")
		}
		x, y := tf(c[0], c[1])
		out = []float64{x, y}
	case "MultiPoint", "LineString":
		var cs [][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.Errorf(apperr.Internal, "malformed %s coordinates from backend", typ)
		}
		out = transformPositions(cs, tf)
	case "MultiLineString", "Polygon":
		var cs [][][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.Errorf(apperr.Internal, "malformed %s coordinates from backend", typ)
		}
		res := make([][][]float64, 0, len(cs))
		for _, part := range cs {
			res = append(res, transformPositions(part, tf))
		}
		out = res
	case "MultiPolygon":
		var cs [][][][]float64
		if err := json.Unmarshal(coords, &cs); err != nil {
			return nil, apperr.E(apperr.Internal, "malformed multipolygon coordinates from backend")
		}
		res := make([][][][]float64, 0, len(cs))
		for _, poly := range cs {
			rings := make([][][]float64, 0, len(poly))
			for _, ring := range poly {
				rings = append(rings, transformPositions(ring, tf))
			}
			res = append(res, rings)
		}
		out = res
	default:
		return nil, apperr.Errorf(apperr.Internal, "unsupported geometry type %q from backend", typ)
	}
	return json.Marshal(out)
}

func transformPositions(ps [][]float64, tf Transform) [][]float64 {
	out := make([][]float64, 0, len(ps))
	for _, p := range ps {
		if len(p) < 2 {
			continue
		}
		x, y := tf(p[0], p[1])
		out = append(out, []float64{x, y})
	}
	return out
}

// polygonRings converts one GeoJSON polygon (outer ring first, then holes)
// into ESRI rings with corrected winding.
func polygonRings(rings [][][]float64, tf Transform) [][][]float64 {
	out := make([][][]float64, 0, len(rings))
	for i, ring := range rings {
		r := transformPositions(ring, tf)
		clockwise := i == 0 // outer ring clockwise, holes counter-clockwise
		if ringIsClockwise(r) != clockwise {
			reverseRing(r)
		}
		out = append(out, r)
	}
	return out
}

// ringIsClockwise uses the shoelace sum; positive signed area means
// counter-clockwise in a y-up coordinate system.
func ringIsClockwise(ring [][]float64) bool {
	var sum float64
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += (ring[j][0] - ring[i][0]) * (ring[j][1] + ring[i][1])
	}
	return sum > 0
}

func reverseRing(ring [][]float64) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}

// GeometryTypeName maps the layer geometry type to the ArcGIS enum.
func GeometryTypeName(t model.GeometryType) string {
	switch t {
	case model.GeometryPoint:
		return "esriGeometryPoint"
	case model.GeometryLine:
		return "esriGeometryPolyline"
	case model.GeometryPolygon:
		return "esriGeometryPolygon"
	default:
		return ""
	}
}

// GeometryTypeFromGeoJSON maps a GeoJSON geometry type to the layer enum.
func GeometryTypeFromGeoJSON(typ string) model.GeometryType {
	switch typ {
	case "Point", "MultiPoint":
		return model.GeometryPoint
	case "LineString", "MultiLineString":
		return model.GeometryLine
	case "Polygon", "MultiPolygon":
		return model.GeometryPolygon
	default:
		return ""
	}
}
