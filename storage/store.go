// Package storage provides the key-value persistence port the state machine
// writes snapshots to, and the backends that implement it.
//
// A Store maps string keys to string values, the same shape as a browser's
// local storage. Each application uses a single namespace key.
package storage

import "context"

// Store persists string values under string keys. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Missing keys are ignored.
	Delete(ctx context.Context, key string) error
}
