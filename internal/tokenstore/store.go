// Package tokenstore persists the console's credentials, the cached user
// profile and saved list filters in a small key/value store.
package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("tokenstore: key not found")

// Store is a persistent string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Change describes a write made by another process sharing the same store.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// Watcher is implemented by stores that can report writes made elsewhere.
// Writes made through the same Store value are never reported back to it.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}
