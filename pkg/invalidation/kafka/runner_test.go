package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeCache struct {
	mu       sync.Mutex
	del      []string
	prefixes []string
	err      error
}

func (f *fakeCache) Get(_ context.Context, _ string) ([]byte, bool, error) { return nil, false, nil }
func (f *fakeCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	f.del = append(f.del, keys...)
	f.mu.Unlock()
	return f.err
}

func (f *fakeCache) DelPrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	f.prefixes = append(f.prefixes, prefix)
	f.mu.Unlock()
	return f.err
}

type fakeSchemas struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSchemas) Invalidate(collection string) {
	f.mu.Lock()
	f.calls = append(f.calls, collection)
	f.mu.Unlock()
}

func wireMsg(t *testing.T, w WireEvent) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{
		Topic: "t", Partition: 0, Offset: 1,
		Timestamp: time.Now().UTC(), Value: b,
	}
}

func TestCollectionEvent_DropsPrefixAndSchema(t *testing.T) {
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	fc := &fakeCache{}
	fs := &fakeSchemas{}
	r := New(cfg, fc, Options{Register: prometheus.NewRegistry(), Schemas: fs})

	msg := wireMsg(t, WireEvent{Collection: "parks-collection", Op: "update", Version: 1, TS: time.Now().UTC()})
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	if len(fc.prefixes) != 1 || fc.prefixes[0] != "ms:parks-collection:" {
		t.Fatalf("prefixes: %v", fc.prefixes)
	}
	if len(fs.calls) != 1 || fs.calls[0] != "parks-collection" {
		t.Fatalf("schema invalidations: %v", fs.calls)
	}
}

func TestVersionDedupe_SkipsReplays(t *testing.T) {
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	fc := &fakeCache{}
	r := New(cfg, fc, Options{Register: prometheus.NewRegistry()})
	ctx := context.Background()

	msg := wireMsg(t, WireEvent{Collection: "parks-collection", Version: 3})
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	// replay with the same version and an older one: both skipped
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := r.handleMessage(ctx, wireMsg(t, WireEvent{Collection: "parks-collection", Version: 2})); err != nil {
		t.Fatal(err)
	}
	if len(fc.prefixes) != 1 {
		t.Fatalf("replays applied: %v", fc.prefixes)
	}

	// newer version applies again
	if err := r.handleMessage(ctx, wireMsg(t, WireEvent{Collection: "parks-collection", Version: 4})); err != nil {
		t.Fatal(err)
	}
	if len(fc.prefixes) != 2 {
		t.Fatalf("newer version not applied: %v", fc.prefixes)
	}
}

func TestKeyEvent_DeletesSingleEntry(t *testing.T) {
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	fc := &fakeCache{}
	fs := &fakeSchemas{}
	r := New(cfg, fc, Options{Register: prometheus.NewRegistry(), Schemas: fs})

	msg := wireMsg(t, WireEvent{Key: "ms:parks-collection:query:00ff", Version: 1})
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(fc.del) != 1 || fc.del[0] != "ms:parks-collection:query:00ff" {
		t.Fatalf("deletes: %v", fc.del)
	}
	if len(fs.calls) != 0 {
		t.Fatalf("key events must not drop schemas: %v", fs.calls)
	}
}

func TestHandleMessage_RejectsBadPayloads(t *testing.T) {
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	r := New(cfg, &fakeCache{}, Options{Register: prometheus.NewRegistry()})
	ctx := context.Background()

	bad := &sarama.ConsumerMessage{Value: []byte("not json")}
	if err := r.handleMessage(ctx, bad); err == nil {
		t.Fatal("expected decode error")
	}
	empty := wireMsg(t, WireEvent{Version: 1})
	if err := r.handleMessage(ctx, empty); err == nil {
		t.Fatal("expected error for event without key or collection")
	}
}

func TestReadiness(t *testing.T) {
	disabled := New(InvalidationConfig{}, &fakeCache{}, Options{Register: prometheus.NewRegistry()})
	if ok, _ := disabled.Readiness(); !ok {
		t.Fatal("disabled runner must be ready")
	}

	enabled := New(InvalidationConfig{Enabled: true, Driver: DriverKafka}, &fakeCache{},
		Options{Register: prometheus.NewRegistry()})
	if ok, _ := enabled.Readiness(); ok {
		t.Fatal("enabled runner without assignment must not be ready")
	}
	enabled.assigned.Store(true)
	enabled.assign = map[int32]struct{}{0: {}, 1: {}}
	if ok, detail := enabled.Readiness(); !ok || detail == "" {
		t.Fatalf("assigned runner: %v %q", ok, detail)
	}
}
