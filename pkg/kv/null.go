package kv

import "context"

// Null is a no-op store that never stores anything.
// Useful when caching should be disabled entirely.
type Null struct{}

// NewNull creates a null store.
func NewNull() Store {
	return Null{}
}

// Get always returns a miss.
func (Null) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set does nothing.
func (Null) Set(context.Context, string, []byte) error { return nil }

// Delete does nothing.
func (Null) Delete(context.Context, string) error { return nil }

// Keys always returns no keys.
func (Null) Keys(context.Context, string) ([]string, error) { return nil, nil }

// Close does nothing.
func (Null) Close() error { return nil }
