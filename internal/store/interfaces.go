package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// KVStore is the persistent key/value interface shared by every component.
// A zero ttl means the entry never expires. No multi-key transactions.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// CounterRecorder receives cache hit/miss counts
type CounterRecorder interface {
	IncrementCounter(name string, delta uint64)
}

// GetJSON loads key and decodes it into out
func GetJSON(ctx context.Context, kv KVStore, key string, out interface{}) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value and stores it under key
func SetJSON(ctx context.Context, kv KVStore, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return kv.Set(ctx, key, data, ttl)
}
