package kafka

import "time"

// WireEvent is one invalidation message. Key targets a single cache
// entry; Collection drops everything cached for a backend collection
// plus its schema.
type WireEvent struct {
	Key        string    `json:"key,omitempty"`
	Collection string    `json:"collection,omitempty"`
	Op         string    `json:"op,omitempty"`
	Version    uint64    `json:"version"`
	TS         time.Time `json:"ts"`
}
