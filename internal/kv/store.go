// Package kv provides the device-scoped key/value capability client
// components persist through. The registry and pollers depend only on this
// interface, never on a concrete storage technology.
package kv

import "context"

// Store is a minimal durable key/value capability. Get reports presence
// explicitly so a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
