// Package storage is the narrow key/value port the security core persists
// through: key material, encrypted cache records, sessions, transaction
// indexes and the audit ring all live behind it.
package storage

import "context"

type Store interface {
	// Get returns domain.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
