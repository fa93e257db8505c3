// Package kv provides the key/value stores behind the registry response cache.
//
// # Backends
//
//   - [Memory]: process-local map, for tests and the HTTP server
//   - [File]: one JSON file per key under ~/.cache/depscan (CLI default)
//   - [Redis]: shared store for multi-instance deployments
//   - [Mongo]: document store, one document per key
//   - [Null]: never stores anything (caching disabled)
//
// Stores hold opaque bytes. Expiry is not a store concern: the TTL logic in
// package cache decides whether a value is still fresh.
//
// # Concurrency
//
// All backends are safe for concurrent use. Concurrent writes to the same key
// are last-write-wins.
package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("store closed")

// Store is a byte-oriented key/value store.
type Store interface {
	// Get returns the value for key. The boolean is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases resources held by the store.
	Close() error
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DeletePrefix removes every key starting with prefix and returns how many
// keys were removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
