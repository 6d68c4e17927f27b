// Package model defines core domain types shared across the service.
package model

import "fmt"

type GeometryType string

const (
	GeometryPoint   GeometryType = "point"
	GeometryLine    GeometryType = "line"
	GeometryPolygon GeometryType = "polygon"
)

type Operation string

const (
	OpQuery    Operation = "query"
	OpExport   Operation = "export"
	OpIdentify Operation = "identify"
)

type Field struct {
	Name  string
	Type  string
	Alias string
}

// Schema is what the backend reports about a collection: its attribute
// fields and geometry type.
type Schema struct {
	Fields       []Field
	GeometryType GeometryType
}

// LayerDescriptor describes one layer of a proxied service. ID and
// Collection come from configuration; GeometryType and Fields are filled
// from the backend collection schema on first access.
type LayerDescriptor struct {
	ID           int
	Name         string
	Collection   string
	GeometryType GeometryType
	Fields       []Field
}

// ServiceDescriptor is immutable after configuration load. Collection is
// the backend collection of layer 0.
type ServiceDescriptor struct {
	Name       string
	Collection string
	SRID       int
	Operations []Operation
	Layers     []LayerDescriptor
	FullExtent BBox
}

func (s ServiceDescriptor) Supports(op Operation) bool {
	for _, o := range s.Operations {
		if o == op {
			return true
		}
	}
	return false
}

func (s ServiceDescriptor) Layer(id int) (LayerDescriptor, bool) {
	for _, l := range s.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return LayerDescriptor{}, false
}

type BBox struct {
	XMin, YMin float64
	XMax, YMax float64
}

// String formats the bbox as the comma-separated form used by OGC API
// bbox parameters.
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Degenerate reports whether the box has zero or negative width or height.
func (b BBox) Degenerate() bool {
	return b.XMax <= b.XMin || b.YMax <= b.YMin
}

// WorldExtent returns the full valid extent of a spatial reference, used
// when a service does not configure one. Web Mercator gets its projected
// bounds; everything else falls back to geographic coordinates.
func WorldExtent(srid int) BBox {
	if srid == 3857 {
		const m = 20037508.342789244
		return BBox{XMin: -m, YMin: -m, XMax: m, YMax: m}
	}
	return BBox{XMin: -180, YMin: -90, XMax: 180, YMax: 90}
}

type Size struct {
	Width  int
	Height int
}

func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// QueryFilter carries one parsed query request. Built per request and
// discarded after the response is sent.
type QueryFilter struct {
	Where          string
	BBox           *BBox
	InSR           int
	OutSR          int
	Limit          int
	OutFields      []string
	ReturnGeometry bool
}
