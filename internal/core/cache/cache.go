// Package cache defines the backend-response cache used to avoid repeated
// identical calls to pygeoapi.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelPrefix drops every entry whose key starts with prefix. Used by
	// collection invalidation.
	DelPrefix(ctx context.Context, prefix string) error
}
