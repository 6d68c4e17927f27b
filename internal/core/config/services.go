package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

// servicesFile is the on-disk shape of the service mapping, in the manner of
// a pygeoapi resource configuration.
type servicesFile struct {
	Services map[string]serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	Collection string       `yaml:"collection"`
	SRID       int          `yaml:"srid"`
	Extent     []float64    `yaml:"extent"`
	Operations []string     `yaml:"operations"`
	Layers     []layerEntry `yaml:"layers"`
}

type layerEntry struct {
	ID           int    `yaml:"id"`
	Collection   string `yaml:"collection"`
	Title        string `yaml:"title"`
	GeometryType string `yaml:"geometry_type"`
}

var defaultOperations = []model.Operation{model.OpQuery, model.OpExport, model.OpIdentify}

// LoadServices reads and validates the service mapping once at startup. The
// returned descriptors are never mutated afterwards.
func LoadServices(path string) ([]model.ServiceDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services config: %w", err)
	}
	return ParseServices(raw)
}

func ParseServices(raw []byte) ([]model.ServiceDescriptor, error) {
	var f servicesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse services config: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("services config defines no services")
	}

	out := make([]model.ServiceDescriptor, 0, len(f.Services))
	for name, e := range f.Services {
		svc, err := buildService(name, e)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func buildService(name string, e serviceEntry) (model.ServiceDescriptor, error) {
	if name == "" {
		return model.ServiceDescriptor{}, fmt.Errorf("service with empty name")
	}

	layers := e.Layers
	if len(layers) == 0 {
		if e.Collection == "" {
			return model.ServiceDescriptor{}, fmt.Errorf("service %q: collection or layers required", name)
		}
		layers = []layerEntry{{ID: 0, Collection: e.Collection, Title: name}}
	}

	seen := map[int]bool{}
	descs := make([]model.LayerDescriptor, 0, len(layers))
	for _, l := range layers {
		if l.ID < 0 {
			return model.ServiceDescriptor{}, fmt.Errorf("service %q: negative layer id %d", name, l.ID)
		}
		if seen[l.ID] {
			return model.ServiceDescriptor{}, fmt.Errorf("service %q: duplicate layer id %d", name, l.ID)
		}
		seen[l.ID] = true
		col := l.Collection
		if col == "" {
			col = e.Collection
		}
		if col == "" {
			return model.ServiceDescriptor{}, fmt.Errorf("service %q layer %d: collection required", name, l.ID)
		}
		title := l.Title
		if title == "" {
			title = col
		}
		gt, err := parseGeometryType(l.GeometryType)
		if err != nil {
			return model.ServiceDescriptor{}, fmt.Errorf("service %q layer %d: %w", name, l.ID, err)
		}
		descs = append(descs, model.LayerDescriptor{
			ID:           l.ID,
			Name:         title,
			Collection:   col,
			GeometryType: gt,
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })

	ops, err := parseOperations(e.Operations)
	if err != nil {
		return model.ServiceDescriptor{}, fmt.Errorf("service %q: %w", name, err)
	}

	srid := e.SRID
	if srid == 0 {
		srid = 4326
	}

	extent, err := parseExtent(e.Extent, srid)
	if err != nil {
		return model.ServiceDescriptor{}, fmt.Errorf("service %q: %w", name, err)
	}

	primary := e.Collection
	if primary == "" {
		primary = descs[0].Collection
	}

	return model.ServiceDescriptor{
		Name:       name,
		Collection: primary,
		SRID:       srid,
		Operations: ops,
		Layers:     descs,
		FullExtent: extent,
	}, nil
}

// parseExtent validates a configured xmin, ymin, xmax, ymax list, falling
// back to the full extent of the spatial reference when absent.
func parseExtent(vals []float64, srid int) (model.BBox, error) {
	if len(vals) == 0 {
		return model.WorldExtent(srid), nil
	}
	if len(vals) != 4 {
		return model.BBox{}, fmt.Errorf("extent needs 4 values, got %d", len(vals))
	}
	b := model.BBox{XMin: vals[0], YMin: vals[1], XMax: vals[2], YMax: vals[3]}
	if b.Degenerate() {
		return model.BBox{}, fmt.Errorf("degenerate extent %s", b.String())
	}
	return b, nil
}

func parseOperations(ops []string) ([]model.Operation, error) {
	if len(ops) == 0 {
		return defaultOperations, nil
	}
	out := make([]model.Operation, 0, len(ops))
	for _, o := range ops {
		switch model.Operation(o) {
		case model.OpQuery, model.OpExport, model.OpIdentify:
			out = append(out, model.Operation(o))
		default:
			return nil, fmt.Errorf("unknown operation %q", o)
		}
	}
	return out, nil
}

func parseGeometryType(s string) (model.GeometryType, error) {
	switch model.GeometryType(s) {
	case "", model.GeometryPoint, model.GeometryLine, model.GeometryPolygon:
		return model.GeometryType(s), nil
	default:
		return "", fmt.Errorf("unknown geometry type %q", s)
	}
}
