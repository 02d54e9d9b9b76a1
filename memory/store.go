// Package memory persists durable facts about the user and renders them
// into task system prompts. Facts live in a flat /-separated key namespace
// backed by pluggable storage.
package memory

import "context"

// Store translates between external storage and the fact namespace.
// Implementations are stateless and perform I/O on each call.
type Store interface {
	// List returns all available keys in the store.
	List(ctx context.Context) ([]string, error)
	// Load retrieves entries for the specified keys.
	Load(ctx context.Context, keys ...string) ([]Entry, error)
	// Save persists entries, creating or overwriting as needed.
	Save(ctx context.Context, entries ...Entry) error
	// Delete removes entries. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Entry is a key-value pair in the store. Keys are /-separated paths and
// values are raw bytes.
type Entry struct {
	Key   string
	Value []byte
}
