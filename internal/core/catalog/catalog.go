// Package catalog holds the service/layer descriptors: services are loaded
// once from configuration and immutable; layer schemas are fetched from the
// backend on first access and cached with a freshness window.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

// SchemaFetcher retrieves a collection's field list and geometry type from
// the backend.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context, collection string) (model.Schema, error)
}

type Catalog struct {
	log      *slog.Logger
	services map[string]model.ServiceDescriptor
	fetch    SchemaFetcher
	schemas  *expirable.LRU[string, model.Schema]

	mu       sync.Mutex
	inflight map[string]*fetchCall
}

type fetchCall struct {
	done   chan struct{}
	schema model.Schema
	err    error
}

func New(log *slog.Logger, services []model.ServiceDescriptor, fetch SchemaFetcher, ttl time.Duration, maxEntries int) *Catalog {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	byName := make(map[string]model.ServiceDescriptor, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	return &Catalog{
		log:      log,
		services: byName,
		fetch:    fetch,
		schemas:  expirable.NewLRU[string, model.Schema](maxEntries, nil, ttl),
		inflight: map[string]*fetchCall{},
	}
}

func (c *Catalog) Service(name string) (model.ServiceDescriptor, error) {
	s, ok := c.services[name]
	if !ok {
		return model.ServiceDescriptor{}, apperr.Errorf(apperr.NotFound, "service %q is not configured", name)
	}
	return s, nil
}

func (c *Catalog) Services() []model.ServiceDescriptor {
	out := make([]model.ServiceDescriptor, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	return out
}

// Layer returns the full layer descriptor, filling fields and geometry type
// from the backend schema. Configured geometry type wins over the fetched
// one.
func (c *Catalog) Layer(ctx context.Context, service string, id int) (model.LayerDescriptor, error) {
	svc, err := c.Service(service)
	if err != nil {
		return model.LayerDescriptor{}, err
	}
	layer, ok := svc.Layer(id)
	if !ok {
		return model.LayerDescriptor{}, apperr.Errorf(apperr.NotFound,
			"service %q has no layer %d", service, id)
	}

	sch, err := c.schema(ctx, layer.Collection)
	if err != nil {
		return model.LayerDescriptor{}, err
	}
	layer.Fields = sch.Fields
	if layer.GeometryType == "" {
		layer.GeometryType = sch.GeometryType
	}
	return layer, nil
}

// schema serves from the freshness window when possible; otherwise one
// fetch runs per collection and concurrent callers wait on its result.
func (c *Catalog) schema(ctx context.Context, collection string) (model.Schema, error) {
	c.mu.Lock()
	if sch, ok := c.schemas.Get(collection); ok {
		c.mu.Unlock()
		return sch, nil
	}
	if call, ok := c.inflight[collection]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.schema, call.err
		case <-ctx.Done():
			return model.Schema{}, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[collection] = call
	c.mu.Unlock()

	sch, err := c.fetch.FetchSchema(ctx, collection)

	c.mu.Lock()
	delete(c.inflight, collection)
	if err == nil {
		c.schemas.Add(collection, sch)
	}
	c.mu.Unlock()

	call.schema, call.err = sch, err
	close(call.done)

	if err != nil {
		c.log.Warn("schema fetch failed", "collection", collection, "err", err)
	}
	return sch, err
}

// Invalidate drops the cached schema for a collection; the next access
// refetches.
func (c *Catalog) Invalidate(collection string) {
	c.mu.Lock()
	c.schemas.Remove(collection)
	c.mu.Unlock()
}

// Readiness satisfies health.ReadinessReporter: the catalog is ready as soon
// as the service mapping is loaded.
func (c *Catalog) Readiness() (bool, string) {
	if len(c.services) == 0 {
		return false, "no services configured"
	}
	return true, "catalog loaded"
}
