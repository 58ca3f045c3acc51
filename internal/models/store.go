package models

import "context"

// KeyValueStore is a string key-value store for local flags.
type KeyValueStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes every key in one atomic operation. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
