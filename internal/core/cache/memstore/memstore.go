// Package memstore is an in-process cache driver for single-instance
// deployments.
package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Store struct {
	lru *expirable.LRU[string, []byte]
}

// New builds a bounded LRU whose entries expire after ttl. The expirable LRU
// has one TTL per cache, so per-Set TTLs are ignored by this driver.
func New(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Store{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(key)
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	s.lru.Add(key, val)
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}

func (s *Store) DelPrefix(_ context.Context, prefix string) error {
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.lru.Remove(k)
		}
	}
	return nil
}
