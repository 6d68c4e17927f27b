package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   atomic.Int64
	block   chan struct{} // when set, FetchSchema waits until closed
	schemas map[string]model.Schema
	err     error
}

func (f *fakeFetcher) FetchSchema(_ context.Context, collection string) (model.Schema, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Schema{}, f.err
	}
	return f.schemas[collection], nil
}

func testServices() []model.ServiceDescriptor {
	return []model.ServiceDescriptor{
		{
			Name:       "parks",
			Collection: "parks-collection",
			SRID:       4326,
			Operations: []model.Operation{model.OpQuery, model.OpExport},
			Layers: []model.LayerDescriptor{
				{ID: 0, Name: "parks", Collection: "parks-collection"},
				{ID: 1, Name: "benches", Collection: "benches-collection", GeometryType: model.GeometryPoint},
			},
		},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_NotFound(t *testing.T) {
	c := New(discard(), testServices(), &fakeFetcher{}, time.Minute, 16)
	_, err := c.Service("nope")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("kind %v want NotFound", apperr.KindOf(err))
	}
}

func TestLayer_IDMatchesRequest(t *testing.T) {
	f := &fakeFetcher{schemas: map[string]model.Schema{
		"parks-collection":   {Fields: []model.Field{{Name: "status", Type: "esriFieldTypeString"}}, GeometryType: model.GeometryPolygon},
		"benches-collection": {GeometryType: model.GeometryPolygon},
	}}
	c := New(discard(), testServices(), f, time.Minute, 16)

	// every configured service/layer pair returns the requested id
	for _, svc := range c.Services() {
		for _, l := range svc.Layers {
			got, err := c.Layer(context.Background(), svc.Name, l.ID)
			if err != nil {
				t.Fatalf("Layer(%s,%d): %v", svc.Name, l.ID, err)
			}
			if got.ID != l.ID {
				t.Fatalf("Layer(%s,%d) returned id %d", svc.Name, l.ID, got.ID)
			}
		}
	}

	got, _ := c.Layer(context.Background(), "parks", 0)
	if len(got.Fields) != 1 || got.GeometryType != model.GeometryPolygon {
		t.Fatalf("schema not merged: %+v", got)
	}

	// configured geometry type wins over the fetched one
	bench, _ := c.Layer(context.Background(), "parks", 1)
	if bench.GeometryType != model.GeometryPoint {
		t.Fatalf("configured geometry type lost: %+v", bench)
	}
}

func TestLayer_NotFound(t *testing.T) {
	c := New(discard(), testServices(), &fakeFetcher{}, time.Minute, 16)
	_, err := c.Layer(context.Background(), "parks", 42)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("kind %v want NotFound", apperr.KindOf(err))
	}
}

func TestSchema_CachedWithinTTL(t *testing.T) {
	f := &fakeFetcher{schemas: map[string]model.Schema{"parks-collection": {}}}
	c := New(discard(), testServices(), f, time.Minute, 16)

	for range 5 {
		if _, err := c.Layer(context.Background(), "parks", 0); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("want 1 backend fetch, got %d", n)
	}
}

func TestSchema_SingleFlight(t *testing.T) {
	f := &fakeFetcher{
		block:   make(chan struct{}),
		schemas: map[string]model.Schema{"parks-collection": {}},
	}
	c := New(discard(), testServices(), f, time.Minute, 16)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Layer(context.Background(), "parks", 0)
		}()
	}

	// let the goroutines pile up on the in-flight fetch, then release it
	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("want a single in-flight fetch, got %d", n)
	}
}

func TestSchema_ErrorNotCached(t *testing.T) {
	f := &fakeFetcher{err: errors.New("backend down")}
	c := New(discard(), testServices(), f, time.Minute, 16)

	_, err1 := c.Layer(context.Background(), "parks", 0)
	if err1 == nil {
		t.Fatal("expected error")
	}
	f.mu.Lock()
	f.err = nil
	f.schemas = map[string]model.Schema{"parks-collection": {}}
	f.mu.Unlock()

	if _, err := c.Layer(context.Background(), "parks", 0); err != nil {
		t.Fatalf("failure was cached: %v", err)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	f := &fakeFetcher{schemas: map[string]model.Schema{"parks-collection": {}}}
	c := New(discard(), testServices(), f, time.Minute, 16)

	_, _ = c.Layer(context.Background(), "parks", 0)
	c.Invalidate("parks-collection")
	_, _ = c.Layer(context.Background(), "parks", 0)

	if n := f.calls.Load(); n != 2 {
		t.Fatalf("want refetch after invalidate, got %d calls", n)
	}
}
