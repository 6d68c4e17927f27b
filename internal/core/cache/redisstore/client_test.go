package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestClient_SetGetDel(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}

	if err := c.Del(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Fatal("key survived delete")
	}
}

func TestClient_DelPrefix(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_ = c.Set(ctx, "ms:parks:items:a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "ms:parks:queryables:b", []byte("2"), time.Minute)
	_ = c.Set(ctx, "ms:rivers:items:c", []byte("3"), time.Minute)

	if err := c.DelPrefix(ctx, "ms:parks:"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "ms:parks:items:a"); ok {
		t.Fatal("prefix delete missed items key")
	}
	if _, ok, _ := c.Get(ctx, "ms:parks:queryables:b"); ok {
		t.Fatal("prefix delete missed queryables key")
	}
	if _, ok, _ := c.Get(ctx, "ms:rivers:items:c"); !ok {
		t.Fatal("prefix delete removed unrelated key")
	}
}
